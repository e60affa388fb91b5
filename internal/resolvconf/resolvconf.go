// Package resolvconf reads the host's resolver configuration to seed the
// DNS forwarder's fallback upstream list.
package resolvconf

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// DefaultPath is the conventional location of the system resolver config.
const DefaultPath = "/etc/resolv.conf"

// Read returns the nameserver addresses configured at path, with
// "localhost" and "127.0.0.1" filtered out.  A missing file is not an
// error: it returns an empty list, since this is only used to seed a
// fallback list at startup.
func Read(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var resolvers []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "nameserver" {
			continue
		}

		addr := fields[1]
		if addr == "localhost" || addr == "127.0.0.1" {
			continue
		}

		resolvers = append(resolvers, addr)
	}

	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return resolvers, nil
}
