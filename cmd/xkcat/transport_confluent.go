//go:build cgo

package main

import (
	"github.com/omeyang/xkclient/pkg/mq/xbroker"
	"github.com/omeyang/xkclient/pkg/mq/xbroker/xconfluent"
)

func init() {
	transports["confluent"] = func() xbroker.Factory { return xconfluent.Factory() }
}
