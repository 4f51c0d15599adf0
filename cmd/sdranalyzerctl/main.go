// Command sdranalyzerctl is a small CLI client for driving a running
// sdranalyzerd instance: connect, authenticate, issue one tuning operation,
// and print whatever source-info/message traffic arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/BatchDrake/suscan-sub002/internal/remote"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7337", "server control address")
	user := flag.String("user", "", "username")
	password := flag.String("password", "", "password")
	freq := flag.Float64("freq", 0, "set frequency in Hz (0 = skip)")
	watch := flag.Duration("watch", 3*time.Second, "how long to print incoming traffic before exiting")
	flag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "sdranalyzerctl: -user is required")
		os.Exit(2)
	}

	cl, err := remote.Connect(context.Background(), remote.Options{
		ServerAddr:     *addr,
		User:           *user,
		Password:       *password,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		log.Fatalf("sdranalyzerctl: connect: %v", err)
	}
	defer cl.Close()

	if *freq > 0 {
		if err := cl.SetFrequency(*freq, 0); err != nil {
			log.Fatalf("sdranalyzerctl: set-frequency: %v", err)
		}
		log.Printf("sdranalyzerctl: requested frequency %.0f Hz", *freq)
	}

	deadline := time.After(*watch)
	for {
		select {
		case info := <-cl.SourceInfo:
			fmt.Println("source-info:", info)
		case msg := <-cl.Messages:
			fmt.Printf("message: type=%d\n", msg.Type)
		case <-cl.Eos:
			fmt.Println("end of stream")
		case <-deadline:
			return
		}
	}
}
