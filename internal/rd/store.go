package rd

import (
	"bytes"
	"database/sql"
	"encoding/gob"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/siliconlabs/zwave-ip-gateway/internal/shmp"
)

// MaxNodesClassic bounds the classic (8-bit) node-id space and sizes the
// reserved key blocks in the persistent store, spec.md §6.
const MaxNodesClassic = 232

// Key-block layout, spec.md §6: every block is MaxNodes wide, so a
// node-id maps to its key with simple arithmetic (block*maxNodes + id).
// Per-node ids run 1..maxNodes, so slot 0 of a block is the same key as
// slot maxNodes of the block before it: the network-info singleton
// shares its key with the last virtual-node slot, and the gateway-config
// singleton with the last network-info slot. Neither of those per-node
// slots is written by this package.
const (
	blockNode = iota
	blockName
	blockDSK
	blockCCVersions
	blockEndpoints
	blockIPAssoc
	blockVirtualNode
	blockNetworkInfo
	blockGatewayConfig
	blockPeerProfile
)

// singletonSlot is the slot the gateway-config and network-info keys use
// within their blocks (spec.md §6 "blocks for ... network info, gateway config,
// peer profiles" — these are process-wide, not per-node, so they occupy
// slot 0 of their block).
const singletonSlot = 0

// Store is the write-through persistence layer backing the Resource
// Directory, an integer-keyed key-value store per spec.md §6, grounded
// on R2Northstar-Atlas's sqlite persistence layer (jmoiron/sqlx query
// idiom over mattn/go-sqlite3).
type Store struct {
	db       *sqlx.DB
	maxNodes int
}

// OpenStore opens (creating if necessary) the sqlite-backed KV store at
// path, sized for maxNodes node slots.
func OpenStore(path string, maxNodes int) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("rd: opening store: %w", err)
	}
	schema := `CREATE TABLE IF NOT EXISTS kv (
		key   INTEGER PRIMARY KEY,
		value BLOB NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("rd: creating schema: %w", err)
	}
	return &Store{db: db, maxNodes: maxNodes}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) key(block int, slot int) int { return block*s.maxNodes + slot }

func (s *Store) nodeSlot(id shmp.NodeId) int {
	// node-ids are 1-based; slot 0 of each block is reserved for
	// process-wide singletons (gateway config, network info).
	return int(id)
}

func (s *Store) put(key int, value []byte) error {
	_, err := s.db.Exec(`INSERT INTO kv(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Store) get(key int) ([]byte, bool, error) {
	var value []byte
	err := s.db.Get(&value, `SELECT value FROM kv WHERE key = ?`, key)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) delete(key int) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	return err
}

// nodeRecord is the on-disk shape of a Node, encoded with encoding/gob:
// a plain internal blob format, not a wire protocol, so there is no
// third-party serializer in the pack worth depending on for it.
type nodeRecord struct {
	NodeType       uint8
	SecurityFlags  uint8
	WakeupInterval uint32
	State          NodeState
	Mode           Mode
	ProbeFlags     uint32
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// SaveNode persists n's node-record, name, DSK, and CC-version blocks.
// Called write-through on every state change, per spec.md §4.F.
func (s *Store) SaveNode(n *Node) error {
	slot := s.nodeSlot(n.NodeId)
	rec := nodeRecord{
		NodeType:       n.NodeType,
		SecurityFlags:  n.SecurityFlags,
		WakeupInterval: n.WakeupInterval,
		State:          n.State,
		Mode:           n.Mode,
		ProbeFlags:     n.ProbeFlags,
	}
	blob, err := encodeGob(rec)
	if err != nil {
		return err
	}
	if err := s.put(s.key(blockNode, slot), blob); err != nil {
		return err
	}
	if err := s.put(s.key(blockName, slot), []byte(n.Name)); err != nil {
		return err
	}
	if err := s.put(s.key(blockDSK, slot), n.DSK); err != nil {
		return err
	}
	ccBlob, err := encodeGob(n.CCVersions)
	if err != nil {
		return err
	}
	return s.put(s.key(blockCCVersions, slot), ccBlob)
}

// LoadNode reconstructs a Node from its persisted blocks, used by
// ImportFromStore at startup.
func (s *Store) LoadNode(id shmp.NodeId) (*Node, bool, error) {
	slot := s.nodeSlot(id)
	blob, ok, err := s.get(s.key(blockNode, slot))
	if err != nil || !ok {
		return nil, false, err
	}
	var rec nodeRecord
	if err := decodeGob(blob, &rec); err != nil {
		// spec.md §7 ConfigInvalid: ignore the bad record, continue with defaults.
		return nil, false, nil
	}
	n := newNode(id)
	n.NodeType = rec.NodeType
	n.SecurityFlags = rec.SecurityFlags
	n.WakeupInterval = rec.WakeupInterval
	n.State = rec.State
	n.Mode = rec.Mode
	n.ProbeFlags = rec.ProbeFlags

	if name, ok, _ := s.get(s.key(blockName, slot)); ok {
		n.Name = string(name)
	}
	if dsk, ok, _ := s.get(s.key(blockDSK, slot)); ok {
		n.DSK = dsk
	}
	if ccBlob, ok, _ := s.get(s.key(blockCCVersions, slot)); ok {
		var cc map[uint8]uint8
		if err := decodeGob(ccBlob, &cc); err == nil {
			n.CCVersions = cc
		}
	}
	return n, true, nil
}

// DeleteNode removes every block belonging to id.
func (s *Store) DeleteNode(id shmp.NodeId) error {
	slot := s.nodeSlot(id)
	for _, b := range []int{blockNode, blockName, blockDSK, blockCCVersions, blockEndpoints} {
		if err := s.delete(s.key(b, slot)); err != nil {
			return err
		}
	}
	return nil
}

// SaveGatewayConfig / LoadGatewayConfig persist the process-wide
// configuration blob (spec.md §6 "blocks for ... gateway config").
func (s *Store) SaveGatewayConfig(blob []byte) error {
	return s.put(s.key(blockGatewayConfig, singletonSlot), blob)
}

func (s *Store) LoadGatewayConfig() ([]byte, bool, error) {
	return s.get(s.key(blockGatewayConfig, singletonSlot))
}

// SaveNetworkInfo / LoadNetworkInfo persist the HomeId and related
// network-wide state (spec.md §6 "blocks for ... network info").
func (s *Store) SaveNetworkInfo(blob []byte) error {
	return s.put(s.key(blockNetworkInfo, singletonSlot), blob)
}

func (s *Store) LoadNetworkInfo() ([]byte, bool, error) {
	return s.get(s.key(blockNetworkInfo, singletonSlot))
}
