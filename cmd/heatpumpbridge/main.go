package main

import (
	"os"

	"github.com/Agrid-Dev/heatpumpbridge/cmd/app"
)

func main() {
	if err := app.Execute(); err != nil {
		os.Exit(1)
	}
}
