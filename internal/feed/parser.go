package feed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/signalsfoundry/groundtrack/internal/logging"
	"github.com/signalsfoundry/groundtrack/model"
)

// Parse reads NORAD TLE text from r. Entries are normally three lines (name
// plus the two element lines); bare two-line entries are named after their
// catalog number. Malformed entries are skipped with a warning.
func Parse(r io.Reader, log logging.Logger) ([]model.ElementSet, error) {
	if log == nil {
		log = logging.Noop()
	}
	ctx := context.Background()

	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}

	var sets []model.ElementSet
	for i := 0; i < len(lines); {
		var name, line1, line2 string
		switch {
		case i+1 < len(lines) && isLine(lines[i], '1') && isLine(lines[i+1], '2'):
			line1, line2 = lines[i], lines[i+1]
			i += 2
		case i+2 < len(lines) && !isLine(lines[i], '1') && !isLine(lines[i], '2') &&
			isLine(lines[i+1], '1') && isLine(lines[i+2], '2'):
			name, line1, line2 = strings.TrimSpace(strings.TrimPrefix(lines[i], "0 ")), lines[i+1], lines[i+2]
			i += 3
		default:
			log.Warn(ctx, "skipping malformed TLE entry", logging.Int("line_index", i), logging.String("line", lines[i]))
			i++
			continue
		}

		es, err := model.ParseElementSet(name, line1, line2)
		if err != nil {
			log.Warn(ctx, "skipping invalid TLE entry", logging.String("name", name), logging.Err(err))
			continue
		}
		sets = append(sets, es)
	}
	return sets, nil
}

func isLine(s string, n byte) bool {
	return len(s) >= 2 && s[0] == n && s[1] == ' '
}
