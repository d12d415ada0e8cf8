// Package buildinfo carries build-time metadata injected with -ldflags.
package buildinfo

// UnknownValue is reported for metadata that was not injected at build time.
const UnknownValue = "unknown"

// BuildInfo provides access to build-time metadata.
type BuildInfo interface {
	Version() string
	BuildDate() string
	String() string
}

// Context contains build-time metadata that is not user-configurable.
type Context struct {
	version   string
	buildDate string
}

// NewContext creates a Context.
func NewContext(version, buildDate string) *Context {
	return &Context{version: version, buildDate: buildDate}
}

// Version returns the Git version tag of the build.
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns when the binary was built.
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// String renders "<version> (<build date>)".
func (c *Context) String() string {
	return c.Version() + " (" + c.BuildDate() + ")"
}

var _ BuildInfo = (*Context)(nil)
