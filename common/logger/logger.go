package logger

import (
	glog "github.com/Laisky/go-utils/v6/log"

	"github.com/xiaoY233/chat2api/common/config"
)

// Logger is the process-wide structured logger. Request-scoped logging goes
// through gmw.GetLogger(c) instead.
var Logger glog.Logger

func init() {
	level := glog.LevelInfo
	if config.DebugEnabled {
		level = glog.LevelDebug
	}

	var err error
	Logger, err = glog.NewConsoleWithName("chat2api", level)
	if err != nil {
		panic(err)
	}
}
