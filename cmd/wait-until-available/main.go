package main

import (
	"flag"
	"fmt"
	"net/http"
	"time"
)

// Polls the health endpoint of the contacts proxy until it answers with 200 OK.
//
// Usage example on the command line:
// > go run main.go -url=http://localhost:8080/healthz -interval=5s -timeout=2m
func main() {
	url := flag.String("url", "http://localhost:8080/healthz", "the health endpoint to poll")
	interval := flag.Duration("interval", 5*time.Second, "the time between two attempts")
	timeout := flag.Duration("timeout", 0, "give up after this long, 0 waits forever")
	flag.Parse()

	client := &http.Client{Timeout: *interval}
	var totalWaitTime time.Duration
	for {
		res, err := client.Get(*url)
		if err == nil {
			res.Body.Close()
			if res.StatusCode == http.StatusOK {
				fmt.Println(res.Status)
				return
			}
			fmt.Println(res.Status)
		} else {
			fmt.Println(err)
		}
		totalWaitTime += *interval
		if *timeout > 0 && totalWaitTime > *timeout {
			panic(fmt.Sprintf("service not available after %s", totalWaitTime))
		}
		fmt.Printf("Waiting %s", totalWaitTime)
		fmt.Println()
		time.Sleep(*interval)
	}
}
