// Command ndb inspects and edits a normalized object store.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := RootCmd.ExecuteContext(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "ndb: %v\n", err)
		os.Exit(1)
	}
}
