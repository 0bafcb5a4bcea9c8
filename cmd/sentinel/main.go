package main

import (
	"github.com/Virgo-Alpha/sentinel/cmd/handlers"
	"github.com/Virgo-Alpha/sentinel/internal/logger"
)

func main() {
	logger.Init()
	handlers.Execute()
}
