// @title                       passgate API
// @version                     1.0
// @description                 Email-verified registration, sessions and confirmed password changes.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package main

import (
	"fmt"
	"os"

	"passgate/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "passgate:", err)
		os.Exit(1)
	}
}
