//go:build !windows

package audio

type unsupportedSource struct{}

func newPlatformSource(kind Kind) Source {
	return &unsupportedSource{}
}

func (s *unsupportedSource) Init() (Format, error)       { return Format{}, ErrUnsupportedPlatform }
func (s *unsupportedSource) Start() error                { return ErrUnsupportedPlatform }
func (s *unsupportedSource) Stop() error                 { return nil }
func (s *unsupportedSource) GetBuffer() (Buffer, error)  { return Buffer{}, ErrUnsupportedPlatform }
func (s *unsupportedSource) ReleaseBuffer(b Buffer)      {}
func (s *unsupportedSource) Cleanup() error              { return nil }
