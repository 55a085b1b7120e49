package cmd

import (
	"fmt"
	"log"
	"os"
)

// infoLogger wraps informative messages to os.Stdout without cluttering expected output in tests.
var infoLogger = log.New(os.Stdout, "", 0)

func wrapFatalln(msg string, err error) {
	if err == nil {
		logFatalln(msg)
	} else {
		logFatalf("%v", fmt.Errorf(msg+": %w", err))
	}
}
