// Command docgen builds docs/api.adoc from the @Title/@Route annotations on
// the handlers in internal/api. The dashboard renders it under /docs.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/pflag"
)

type Endpoint struct {
	Title       string
	Method      string
	Path        string
	Description string
	Response    string
	Source      string
}

var (
	reTitle = regexp.MustCompile(`// @Title: (.*)`)
	reRoute = regexp.MustCompile(`// @Route: (.*)`)
	reDesc  = regexp.MustCompile(`// @Description: (.*)`)
	reResp  = regexp.MustCompile(`// @Response: (.*)`)
)

func main() {
	apiDir := pflag.String("api", "internal/api", "directory holding the annotated handlers")
	out := pflag.StringP("out", "o", "docs/api.adoc", "output file, - for stdout")
	pflag.Parse()

	endpoints, err := collect(*apiDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var w io.Writer = os.Stdout
	if *out != "-" {
		if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		f, err := os.Create(*out)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}

	if err := render(w, endpoints); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *out != "-" {
		fmt.Printf("Generated %s (%d endpoints)\n", *out, len(endpoints))
	}
}

// collect reads every non-test Go file in dir and returns the annotated
// endpoints ordered by path, then method.
func collect(dir string) ([]Endpoint, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var endpoints []Endpoint
	for _, file := range files {
		name := file.Name()
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		eps, err := parseFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, eps...)
	}

	sort.SliceStable(endpoints, func(i, j int) bool {
		if endpoints[i].Path != endpoints[j].Path {
			return endpoints[i].Path < endpoints[j].Path
		}
		return endpoints[i].Method < endpoints[j].Method
	})
	return endpoints, nil
}

func parseFile(path string) ([]Endpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parse(f, filepath.Base(path))
}

// parse scans annotation blocks. @Response closes a block.
func parse(r io.Reader, source string) ([]Endpoint, error) {
	var endpoints []Endpoint
	var current Endpoint

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		if match := reTitle.FindStringSubmatch(line); len(match) > 1 {
			current = Endpoint{Title: strings.TrimSpace(match[1]), Source: source}
		}
		if match := reRoute.FindStringSubmatch(line); len(match) > 1 {
			route := strings.TrimSpace(match[1])
			current.Method, current.Path = route, ""
			if i := strings.IndexByte(route, ' '); i > 0 {
				current.Method, current.Path = route[:i], strings.TrimSpace(route[i+1:])
			}
		}
		if match := reDesc.FindStringSubmatch(line); len(match) > 1 {
			current.Description = strings.TrimSpace(match[1])
		}
		if match := reResp.FindStringSubmatch(line); len(match) > 1 {
			current.Response = strings.TrimSpace(match[1])
			if current.Title != "" && current.Path != "" {
				endpoints = append(endpoints, current)
			}
			current = Endpoint{}
		}
	}
	return endpoints, scanner.Err()
}

func render(w io.Writer, endpoints []Endpoint) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "= API Reference")
	fmt.Fprintln(bw, ":toc:")
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "Generated from the handler annotations in `internal/api`. Do not edit by hand.")
	fmt.Fprintln(bw)

	fmt.Fprintln(bw, "[cols=\"1,3,4\",options=\"header\"]")
	fmt.Fprintln(bw, "|===")
	fmt.Fprintln(bw, "|Method |Path |Summary")
	for _, ep := range endpoints {
		fmt.Fprintf(bw, "|%s |`%s` |%s\n", ep.Method, ep.Path, escapeCell(ep.Title))
	}
	fmt.Fprintln(bw, "|===")

	for _, ep := range endpoints {
		fmt.Fprintln(bw)
		fmt.Fprintf(bw, "== %s\n\n", ep.Title)
		fmt.Fprintf(bw, "`%s %s`\n\n", ep.Method, ep.Path)
		if ep.Description != "" {
			fmt.Fprintf(bw, "%s\n\n", ep.Description)
		}
		fmt.Fprintln(bw, "Response::")
		fmt.Fprintln(bw, "+")
		fmt.Fprintln(bw, "----")
		fmt.Fprintln(bw, ep.Response)
		fmt.Fprintln(bw, "----")
	}
	return bw.Flush()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
