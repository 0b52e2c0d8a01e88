// Command docqa serves a PDF question-answering web app: upload a PDF, ask
// questions about it, and reset the session when done. It also answers
// one-off questions from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/docqa-go/cmd/docqa/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
