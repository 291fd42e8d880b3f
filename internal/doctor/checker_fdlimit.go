package doctor

import (
	"context"
	"fmt"
)

// RecommendedFileDescriptors is the recommended minimum file descriptor
// soft limit. Badger keeps a descriptor per table and every websocket
// subscriber holds one more.
const RecommendedFileDescriptors uint64 = 65536

// FileDescriptorChecker checks the file descriptor soft limit
type FileDescriptorChecker struct {
	limit func() (uint64, error)
}

func NewFileDescriptorChecker() *FileDescriptorChecker {
	return &FileDescriptorChecker{limit: softFileLimit}
}

func (c *FileDescriptorChecker) Name() string       { return "File descriptors" }
func (c *FileDescriptorChecker) Category() Category { return CategorySystem }

func (c *FileDescriptorChecker) Check(ctx context.Context) CheckResult {
	r := result(c)

	softLimit, err := c.limit()
	if err != nil {
		return r.skip("File descriptors: " + err.Error())
	}
	if softLimit >= RecommendedFileDescriptors {
		return r.ok(fmt.Sprintf("File descriptors: %d (>= %d recommended)", softLimit, RecommendedFileDescriptors))
	}
	return r.warn(fmt.Sprintf("File descriptors: %d (>= %d recommended for production)", softLimit, RecommendedFileDescriptors),
		"Increase with 'ulimit -n 65536' or LimitNOFILE= in the systemd unit")
}
