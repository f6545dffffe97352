// Command rdaplookup performs one-shot RDAP lookups for debugging the
// enrichment pipeline: it prints the normalized entry exactly as the
// pipeline would cache it, without touching any cache file.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"rdapenrich/rdap"
)

func main() {
	base := flag.String("base", rdap.DefaultBaseURL, "RDAP bootstrap base URL")
	timeout := flag.Duration("timeout", 12*time.Second, "per-request timeout")
	flag.Parse()

	client := rdap.NewClient(*base, *timeout)

	if flag.NArg() > 0 {
		for _, ip := range flag.Args() {
			printEntry(client, ip)
		}
		return
	}

	fmt.Println("enter IPs (Ctrl+C to quit)")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		ip := strings.TrimSpace(scanner.Text())
		if ip == "" {
			continue
		}
		printEntry(client, ip)
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "input error: %v\n", err)
	}
}

func printEntry(client *rdap.Client, ip string) {
	e := client.Enrich(context.Background(), ip)
	if !e.OK {
		fmt.Printf("%s -> error: %s\n", ip, e.Error)
		return
	}
	fmt.Printf("%s -> cc=%s, org=%s, cidr=%s, rir=%s\n", ip, e.NetCC, e.Org, e.CIDR, e.Registry)
}
