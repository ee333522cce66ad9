package id

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
// Each relay replica must use a distinct node ID so reply ids never collide.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	if err == nil && node == nil {
		err = fmt.Errorf("snowflake node not initialized")
	}
	return err
}

// NewReplyID returns a time-ordered reply identifier in the base32 form used on the wire.
func NewReplyID() string {
	return node.Generate().Base32()
}
