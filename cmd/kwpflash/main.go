package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/roffe/kwpflash/cmd/kwpflash/cmd"
	log "github.com/sirupsen/logrus"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, os.Interrupt)
	go func() {
		s := <-quitChan
		log.Printf("got %v, stopping, a flash that already erased runs to the end", s)
		cancel()
		<-quitChan
		log.Fatal("interrupted twice, forcefully exiting")
	}()
	if err := cmd.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
