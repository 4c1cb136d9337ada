package graph

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/lioia/siterank/pkg/utils"
)

const maxTokenSize = 1024 * 1024

var ErrLocalResource = errors.New("local resources are not allowed")

var resourceClient = &http.Client{Timeout: 30 * time.Second}

// IsRemote reports whether resource is an http or https URL
func IsRemote(resource string) bool {
	u, err := url.Parse(resource)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Load a graph from a local path or a network resource (http/https)
func LoadResource(ctx context.Context, resource string) (*EdgeStore, error) {
	if IsRemote(resource) {
		return LoadRemote(ctx, resource)
	}
	file, err := os.Open(resource)
	if err != nil {
		utils.WarnLog("graph", "Could not read graph at %s: %v", resource, err)
		return nil, err
	}
	defer file.Close()
	store, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("could not load graph from %s: %w", resource, err)
	}
	return store, nil
}

// LoadRemote only accepts http and https URLs
func LoadRemote(ctx context.Context, resource string) (*EdgeStore, error) {
	if !IsRemote(resource) {
		return nil, fmt.Errorf("%w: %q", ErrLocalResource, resource)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resource, nil)
	if err != nil {
		return nil, err
	}
	resp, err := resourceClient.Do(req)
	if err != nil {
		utils.WarnLog("graph", "Could not load network file at %s: %v", resource, err)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("could not load network file at %s: %s", resource, resp.Status)
	}
	store, err := Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not load graph from %s: %w", resource, err)
	}
	return store, nil
}

func LoadFromBytes(contents []byte) (*EdgeStore, error) {
	return Parse(bytes.NewReader(contents))
}

// Parse consumes whitespace-separated tokens pairwise as (source, destination);
// a trailing unmatched token is dropped
func Parse(r io.Reader) (*EdgeStore, error) {
	store := NewEdgeStore(NewRegistry())
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxTokenSize)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		from := scanner.Text()
		if !scanner.Scan() {
			break
		}
		store.Link(from, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return store, nil
}
