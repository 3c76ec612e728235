// Package watchlist loads the symbol universe from a plain-text file and
// splits it into connection-sized chunks for the feed layer.
package watchlist

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"tradebotv1/config"
)

// Load reads an ordered list of symbols from path. Blank lines are ignored
// and duplicates are dropped (first occurrence wins). Symbols are
// case-sensitive and returned in file order.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("watchlist: open %s: %w", path, err)
	}
	defer f.Close()

	seen := make(map[string]struct{})
	var symbols []string

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		sym := strings.TrimSpace(sc.Text())
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		symbols = append(symbols, sym)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("watchlist: read %s: %w", path, err)
	}
	return symbols, nil
}

// Partition splits symbols into ordered, disjoint chunks of at most
// chunkSize each. Concatenating the chunks reproduces the input exactly.
// Deterministic: identical input always yields an identical partition.
func Partition(symbols []string, chunkSize int) ([][]string, error) {
	if chunkSize <= 0 {
		return nil, config.NewError("FEED_CHUNK_SIZE", "chunk size must be positive, got %d", chunkSize)
	}
	if len(symbols) == 0 {
		return nil, nil
	}
	chunks := make([][]string, 0, (len(symbols)+chunkSize-1)/chunkSize)
	for i := 0; i < len(symbols); i += chunkSize {
		end := i + chunkSize
		if end > len(symbols) {
			end = len(symbols)
		}
		chunks = append(chunks, symbols[i:end])
	}
	return chunks, nil
}
