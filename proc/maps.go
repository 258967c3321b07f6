// Package proc attaches to a running process and exposes its address
// space through the memio.Accessor interface. Reads go through the
// kernel rather than a mapping, so a racing unmap in the target can
// never fault the reader; it simply gets an error back.
package proc

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gitlab.com/stephen-fox/trackit/memio"
)

// ParseMaps parses Linux /proc/<pid>/maps content into regions,
// in the order the kernel lists them (ascending by base address).
func ParseMaps(r io.Reader) ([]memio.Region, error) {
	var regions []memio.Region

	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		region, err := parseMapsLine(line)
		if err != nil {
			return nil, fmt.Errorf("failed to parse maps line %d - %w", lineNum, err)
		}

		regions = append(regions, region)
	}

	err := scanner.Err()
	if err != nil {
		return nil, err
	}

	return regions, nil
}

// parseMapsLine parses one maps entry of the form:
//
//	08048000-08049000 rw-p 00000000 08:01 12345 /path/to/thing
func parseMapsLine(line string) (memio.Region, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return memio.Region{}, fmt.Errorf("expected at least 2 fields - got %d", len(fields))
	}

	start, end, found := strings.Cut(fields[0], "-")
	if !found {
		return memio.Region{}, fmt.Errorf("address range %q is missing a '-'", fields[0])
	}

	base, err := strconv.ParseUint(start, 16, 64)
	if err != nil {
		return memio.Region{}, fmt.Errorf("failed to parse base address %q - %w", start, err)
	}

	limit, err := strconv.ParseUint(end, 16, 64)
	if err != nil {
		return memio.Region{}, fmt.Errorf("failed to parse end address %q - %w", end, err)
	}

	if limit < base {
		return memio.Region{}, fmt.Errorf("end address 0x%x is below base 0x%x", limit, base)
	}

	perms, err := parsePerms(fields[1])
	if err != nil {
		return memio.Region{}, err
	}

	return memio.Region{
		Base:  base,
		Size:  limit - base,
		Perms: perms,
	}, nil
}

func parsePerms(s string) (memio.Perm, error) {
	if len(s) < 3 {
		return 0, fmt.Errorf("permission string %q is too short", s)
	}

	var perms memio.Perm

	if s[0] == 'r' {
		perms |= memio.PermRead
	}

	if s[1] == 'w' {
		perms |= memio.PermWrite
	}

	if s[2] == 'x' {
		perms |= memio.PermExec
	}

	return perms, nil
}
