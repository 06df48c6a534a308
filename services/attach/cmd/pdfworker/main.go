// pdfworker extracts text from a single PDF file and reports the result as
// one JSON line. It runs as a short-lived child process so that parser
// crashes on malformed documents never take down the attach service.
//
// Usage: pdfworker <path-to-pdf>
//
// On success, stdout receives {"text":...,"meta":{"numPages":...}} and the
// process exits 0. On failure, stderr receives {"error":...} and the process
// exits 1.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"tutorchat/services/attach/internal/pdfext"
)

func main() {
	if len(os.Args) != 2 {
		fail("usage: pdfworker <path>")
	}
	result, err := pdfext.Run(os.Args[1])
	if err != nil {
		fail(err.Error())
	}
	if err := json.NewEncoder(os.Stdout).Encode(result); err != nil {
		fail(fmt.Sprintf("encode result: %v", err))
	}
}

func fail(reason string) {
	_ = json.NewEncoder(os.Stderr).Encode(map[string]string{"error": reason})
	os.Exit(1)
}
