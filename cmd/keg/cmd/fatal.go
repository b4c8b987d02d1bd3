package cmd

import (
	"fmt"
	"log"
	"os"
)

// globals used to patch over calls to os.Exit/log.Fatal during tests,
// the same seam the teacher's cmd/datamon/cmd/fatal.go uses.
var (
	logFatalln = log.Fatalln
	osExit     = os.Exit

	infoLogger = log.New(os.Stdout, "", 0)
)

func wrapFatalln(msg string, err error) {
	if err == nil {
		logFatalln(msg)
		return
	}
	logFatalln(fmt.Errorf("%s: %w", msg, err))
}
