package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewContentKey returns the opaque key a note body is stored under in the
// document store. It is generated once at note creation and never derived
// from the note's relational id.
func NewContentKey() string {
	return ksuid.New().String()
}

// NewRequestID returns a snowflake id for correlating log lines of a single
// request. The node id comes from SNOWFLAKE_NODE (default 1). If the node
// cannot be initialized a KSUID is returned instead so callers always get a
// unique value.
func NewRequestID() string {
	nodeOnce.Do(func() {
		id := int64(1)
		if env := os.Getenv("SNOWFLAKE_NODE"); env != "" {
			if parsed, err := strconv.ParseInt(env, 10, 64); err == nil {
				id = parsed
			}
		}
		n, err := snowflake.NewNode(id)
		if err != nil {
			return
		}
		node = n
	})
	if node == nil {
		return ksuid.New().String()
	}
	return node.Generate().String()
}
