package relay

import (
	"log"
	"os"
	"strings"
)

var relayDebugEnabled = strings.EqualFold(os.Getenv("SYNCBOARD_DEBUG"), "1")

func debugLog(format string, args ...interface{}) {
	if relayDebugEnabled {
		log.Printf("relay: "+format, args...)
	}
}
