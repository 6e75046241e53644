package database

import (
	"net"
	"strconv"
	"strings"
)

const defaultPort = 27017

// Target is the connection destination parsed out of a connection string.
type Target struct {
	Host     string
	Port     int
	Database string
}

// ParseTarget extracts the first host, its port and the database name from
// a mongodb:// or mongodb+srv:// connection string. It never fails; missing
// parts are left empty.
func ParseTarget(uri string) Target {
	rest := uri
	srv := strings.HasPrefix(rest, "mongodb+srv://")
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}

	hosts := rest
	path := ""
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		hosts = rest[:i]
		path = rest[i:]
	}
	if i := strings.LastIndex(hosts, "@"); i >= 0 {
		hosts = hosts[i+1:]
	}

	var t Target
	first := hosts
	if i := strings.Index(first, ","); i >= 0 {
		first = first[:i]
	}
	if host, port, err := net.SplitHostPort(first); err == nil {
		t.Host = host
		if p, err := strconv.Atoi(port); err == nil {
			t.Port = p
		}
	} else {
		t.Host = first
		if !srv && first != "" {
			t.Port = defaultPort
		}
	}

	if strings.HasPrefix(path, "/") {
		db := path[1:]
		if i := strings.Index(db, "?"); i >= 0 {
			db = db[:i]
		}
		t.Database = db
	}
	return t
}
