package permission

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

type Permission uint8

const (
	Read Permission = 1 << iota
	Write
	Create
	Delete
)

var names = []struct {
	perm Permission
	name string
}{
	{Read, "read"},
	{Write, "write"},
	{Create, "create"},
	{Delete, "delete"},
}

func (p Permission) String() string {
	for _, n := range names {
		if n.perm == p {
			return n.name
		}
	}
	return fmt.Sprintf("permission(%d)", uint8(p))
}

// Set is a capability set. It is stored as a comma-delimited list
// ("read,write,create") and compared by bits everywhere else.
type Set uint8

const All = Set(Read | Write | Create | Delete)

func Of(perms ...Permission) Set {
	var s Set
	for _, p := range perms {
		s = s.Add(p)
	}
	return s
}

func (s Set) Has(p Permission) bool {
	return s&Set(p) != 0
}

func (s Set) Add(p Permission) Set {
	return s | Set(p)
}

func (s Set) Union(other Set) Set {
	return s | other
}

func (s Set) IsEmpty() bool {
	return s == 0
}

// Strings lists the members in canonical order
func (s Set) Strings() []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if s.Has(n.perm) {
			out = append(out, n.name)
		}
	}
	return out
}

func (s Set) String() string {
	return strings.Join(s.Strings(), ",")
}

// ParseSet reads a delimited list; unknown tokens are ignored.
func ParseSet(raw string) Set {
	var s Set
	for _, token := range strings.Split(raw, ",") {
		token = strings.ToLower(strings.TrimSpace(token))
		for _, n := range names {
			if n.name == token {
				s = s.Add(n.perm)
			}
		}
	}
	return s
}

func (s *Set) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*s = 0
	case string:
		*s = ParseSet(v)
	case []byte:
		*s = ParseSet(string(v))
	default:
		return fmt.Errorf("permission: cannot scan %T into Set", value)
	}
	return nil
}

func (s Set) Value() (driver.Value, error) {
	return s.String(), nil
}

func (Set) GormDataType() string {
	return "string"
}
