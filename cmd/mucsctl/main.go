// Command mucsctl is a small client for mucsd's monitor endpoint: it
// dials the dispatcher, issues "monitor", and either prints the parsed
// snapshot once or renders a live-updating summary line.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"mucs/Common/console"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("%s mucsctl: %v", console.TagError(), err)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] != "monitor" {
		return fmt.Errorf("usage: mucsctl monitor [-addr host:port] [-watch] [-interval 2s]")
	}

	fs := flag.NewFlagSet("mucsctl monitor", flag.ContinueOnError)
	addr := fs.String("addr", "localhost:9714", "dispatcher address")
	watch := fs.Bool("watch", false, "continuously re-poll and render a live summary")
	interval := fs.Duration("interval", 2*time.Second, "poll interval in watch mode")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	if !*watch {
		snap, err := fetchSnapshot(*addr)
		if err != nil {
			return err
		}
		table, err := renderTable(snap)
		if err != nil {
			return err
		}
		fmt.Print(table)
		return nil
	}

	renderer := console.NewStickyRenderer(os.Stdout)
	loop := console.NewRenderLoop(renderer, *interval, func() string {
		snap, err := fetchSnapshot(*addr)
		if err != nil {
			return fmt.Sprintf("mucsctl: %v", err)
		}
		summary, err := summarize(snap)
		if err != nil {
			return fmt.Sprintf("mucsctl: %v", err)
		}
		if width, _ := console.TerminalSize(); width > 0 && len(summary) > width {
			summary = summary[:width]
		}
		return summary
	})
	loop.Start()
	defer loop.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	return nil
}

// fetchSnapshot dials addr, issues "monitor", and reads the reply until
// the server closes the connection.
func fetchSnapshot(addr string) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "monitor\n"); err != nil {
		return "", fmt.Errorf("sending monitor request: %w", err)
	}
	data, err := io.ReadAll(conn)
	if err != nil {
		return "", fmt.Errorf("reading snapshot: %w", err)
	}
	return string(data), nil
}

type hostLine struct {
	ip    string
	state int
}

type tierLine struct {
	tier    int
	entries []string
}

func parseSnapshot(snap string) ([]hostLine, []tierLine, error) {
	var hosts []hostLine
	var tiers []tierLine

	scanner := bufio.NewScanner(strings.NewReader(snap))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "H:"):
			fields := strings.Fields(line)
			if len(fields) != 3 {
				return nil, nil, fmt.Errorf("malformed host line %q", line)
			}
			state, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, nil, fmt.Errorf("malformed host line %q: %w", line, err)
			}
			hosts = append(hosts, hostLine{ip: fields[1], state: state})
		case strings.HasPrefix(line, "C "):
			colon := strings.Index(line, ":")
			if colon < 0 {
				return nil, nil, fmt.Errorf("malformed tier line %q", line)
			}
			tierNum, err := strconv.Atoi(strings.TrimSpace(line[len("C "):colon]))
			if err != nil {
				return nil, nil, fmt.Errorf("malformed tier line %q: %w", line, err)
			}
			entries := strings.Fields(line[colon+1:])
			tiers = append(tiers, tierLine{tier: tierNum, entries: entries})
		default:
			return nil, nil, fmt.Errorf("unrecognized snapshot line %q", line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return hosts, tiers, nil
}

func stateName(state int) string {
	switch state {
	case 1:
		return "available"
	case 2:
		return "unavailable"
	case 3:
		return "overloaded"
	case 4:
		return "silent"
	default:
		return "unknown"
	}
}

func renderTable(snap string) (string, error) {
	hosts, tiers, err := parseSnapshot(snap)
	if err != nil {
		return "", err
	}

	freeByHost := make(map[string]int)
	for _, t := range tiers {
		for _, e := range t.entries {
			parts := strings.SplitN(e, "/", 2)
			if len(parts) != 2 {
				continue
			}
			n, err := strconv.Atoi(parts[1])
			if err != nil {
				continue
			}
			freeByHost[parts[0]] += n
		}
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tSTATE\tFREE CPUS")
	for _, h := range hosts {
		fmt.Fprintf(w, "%s\t%s\t%d\n", h.ip, stateName(h.state), freeByHost[h.ip])
	}
	w.Flush()

	tierNums := make([]int, 0, len(tiers))
	for _, t := range tiers {
		tierNums = append(tierNums, t.tier)
	}
	sort.Ints(tierNums)
	for _, n := range tierNums {
		for _, t := range tiers {
			if t.tier == n {
				fmt.Fprintf(&b, "tier %d: %s\n", n, strings.Join(t.entries, " "))
			}
		}
	}
	return b.String(), nil
}

func summarize(snap string) (string, error) {
	hosts, tiers, err := parseSnapshot(snap)
	if err != nil {
		return "", err
	}
	counts := map[int]int{}
	for _, h := range hosts {
		counts[h.state]++
	}
	free := 0
	for _, t := range tiers {
		for _, e := range t.entries {
			parts := strings.SplitN(e, "/", 2)
			if len(parts) != 2 {
				continue
			}
			n, err := strconv.Atoi(parts[1])
			if err == nil {
				free += n
			}
		}
	}
	return fmt.Sprintf("hosts: %d avail / %d down / %d overloaded / %d silent | cpus free: %d",
		counts[1], counts[2], counts[3], counts[4], free), nil
}
