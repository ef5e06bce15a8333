package xregmongo

import (
	"time"

	"github.com/omeyang/xreg/pkg/registry/xregistry"
)

// 事件类型 0 表示占位事件：写入竞争失败时填补已分配的修订号
const eventNoop = 0

const revCounter = "rev"

type nodeDoc struct {
	Path      string    `bson:"_id"`
	Value     string    `bson:"value"`
	Ephemeral bool      `bson:"ephemeral"`
	Owner     string    `bson:"owner_session,omitempty"`
	Version   int64     `bson:"version"`
	CreateRev int64     `bson:"create_rev"`
	ModRev    int64     `bson:"mod_rev"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d nodeDoc) node() xregistry.Node {
	return xregistry.Node{
		Path:           d.Path,
		Value:          d.Value,
		Ephemeral:      d.Ephemeral,
		Owner:          d.Owner,
		Version:        d.Version,
		CreateRevision: d.CreateRev,
	}
}

type sessionDoc struct {
	ID        string    `bson:"_id"`
	TTL       int64     `bson:"ttl_ms"`
	ExpiresAt time.Time `bson:"expires_at"`
}

type eventDoc struct {
	Seq     int64     `bson:"_id"`
	Type    int       `bson:"type"`
	Path    string    `bson:"path,omitempty"`
	Value   string    `bson:"value,omitempty"`
	Version int64     `bson:"version"`
	At      time.Time `bson:"at"`
}

func eventFromChange(c xregistry.Change, at time.Time) eventDoc {
	return eventDoc{
		Seq:     c.Revision,
		Type:    int(c.Type),
		Path:    c.Path,
		Value:   c.Value,
		Version: c.Version,
		At:      at,
	}
}

func (d eventDoc) change() xregistry.Change {
	return xregistry.Change{
		Type:     xregistry.EventType(d.Type),
		Path:     d.Path,
		Value:    d.Value,
		Version:  d.Version,
		Revision: d.Seq,
	}
}

type counterDoc struct {
	ID  string `bson:"_id"`
	Seq int64  `bson:"seq"`
}
