package schema

import (
	"fmt"
	"strings"
)

// Partition names the exercise module that produced an entry.
type Partition string

const (
	Module1 Partition = "module1"
	Module2 Partition = "module2"
	Module3 Partition = "module3"
	Module4 Partition = "module4"
	Module5 Partition = "module5"
)

// Partitions lists every log partition in display order.
var Partitions = []Partition{Module1, Module2, Module3, Module4, Module5}

// Valid reports whether p is one of the fixed log partitions.
func (p Partition) Valid() bool {
	for _, known := range Partitions {
		if p == known {
			return true
		}
	}
	return false
}

func (p Partition) String() string {
	return string(p)
}

// ParsePartition converts user input such as "module3" or "3" to a Partition.
func ParsePartition(s string) (Partition, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) == 1 && s[0] >= '1' && s[0] <= '5' {
		s = "module" + s
	}
	p := Partition(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown partition %q (want module1..module5)", s)
	}
	return p, nil
}
