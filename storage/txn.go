package storage

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/raniellyferreira/kvscript/engine"
)

// staged is a pending write; a nil rec is a deletion
type staged struct {
	rec *record
}

// SetOptions controls SET-like writes
type SetOptions struct {
	// TTL sets a relative expiry when positive
	TTL time.Duration
	// KeepTTL retains the expiry of an existing value
	KeepTTL bool
}

// Txn is one unit of work. It is not safe for concurrent use.
type Txn struct {
	store   *Store
	db      int
	nowMs   int64
	overlay map[string]*staged
	done    bool
}

// DB returns the database the Txn operates on
func (t *Txn) DB() int {
	return t.db
}

// Now returns the frozen time of the unit of work
func (t *Txn) Now() time.Time {
	return time.UnixMilli(t.nowMs)
}

// Select switches the database used by later operations
func (t *Txn) Select(db int) error {
	if db < 0 || db >= MaxDatabases {
		return ErrInvalidDB
	}
	t.db = db
	return nil
}

// Dirty reports whether the Txn has staged writes
func (t *Txn) Dirty() bool {
	return len(t.overlay) > 0
}

// Commit writes every staged change as one engine batch and releases the
// store lock
func (t *Txn) Commit() error {
	if t.done {
		return ErrTxnDone
	}
	defer t.finish()

	if len(t.overlay) == 0 {
		return nil
	}

	keys := make([]string, 0, len(t.overlay))
	for k := range t.overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b := engine.NewBatch()
	for _, k := range keys {
		if st := t.overlay[k]; st.rec == nil {
			b.Delete([]byte(k))
		} else {
			b.Put([]byte(k), encodeRecord(st.rec))
		}
	}
	return t.store.Commit(b)
}

// Discard drops every staged change and releases the store lock. Discard
// after Commit is a no-op so it can be deferred.
func (t *Txn) Discard() {
	if t.done {
		return
	}
	t.finish()
}

func (t *Txn) finish() {
	t.done = true
	t.overlay = nil
	t.store.mu.Unlock()
}

func (t *Txn) check() error {
	if t.done {
		return ErrTxnDone
	}
	return nil
}

// load returns the live record of key, nil when missing or expired
func (t *Txn) load(key string) (*record, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	raw := UserKey(t.db, key)
	if st, ok := t.overlay[string(raw)]; ok {
		if st.rec == nil || st.rec.expired(t.nowMs) {
			return nil, nil
		}
		return st.rec, nil
	}

	value, err := t.store.kv.Get(raw)
	if errors.Is(err, engine.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get %q: %w", key, err)
	}
	r, err := decodeRecord(value)
	if err != nil {
		return nil, err
	}
	if r.expired(t.nowMs) {
		return nil, nil
	}
	return r, nil
}

func (t *Txn) put(key string, r *record) {
	t.overlay[string(UserKey(t.db, key))] = &staged{rec: r}
}

func (t *Txn) remove(key string) {
	t.overlay[string(UserKey(t.db, key))] = &staged{}
}

// Get returns the string stored at key
func (t *Txn) Get(key string) ([]byte, bool, error) {
	r, err := t.load(key)
	if err != nil || r == nil {
		return nil, false, err
	}
	if r.typ != ValueTypeString {
		return nil, false, ErrWrongType
	}
	return r.payload, true, nil
}

// Set stores a string value at key, replacing any value of any type
func (t *Txn) Set(key string, value []byte, opts SetOptions) error {
	if err := t.check(); err != nil {
		return err
	}
	r := &record{typ: ValueTypeString, payload: append([]byte(nil), value...)}
	switch {
	case opts.TTL > 0:
		r.expireAt = t.nowMs + opts.TTL.Milliseconds()
	case opts.KeepTTL:
		old, err := t.load(key)
		if err != nil {
			return err
		}
		if old != nil {
			r.expireAt = old.expireAt
		}
	}
	t.put(key, r)
	return nil
}

// Del removes keys and returns how many existed
func (t *Txn) Del(keys ...string) (int64, error) {
	var n int64
	for _, key := range keys {
		r, err := t.load(key)
		if err != nil {
			return n, err
		}
		if r != nil {
			t.remove(key)
			n++
		}
	}
	return n, nil
}

// Exists returns how many of keys exist, counting repeats
func (t *Txn) Exists(keys ...string) (int64, error) {
	var n int64
	for _, key := range keys {
		r, err := t.load(key)
		if err != nil {
			return n, err
		}
		if r != nil {
			n++
		}
	}
	return n, nil
}

// Type returns the type of the value stored at key
func (t *Txn) Type(key string) (ValueType, error) {
	r, err := t.load(key)
	if err != nil || r == nil {
		return ValueTypeNone, err
	}
	return r.typ, nil
}

// Expire sets a relative expiry on key. A non-positive ttl deletes the key.
func (t *Txn) Expire(key string, ttl time.Duration) (bool, error) {
	r, err := t.load(key)
	if err != nil || r == nil {
		return false, err
	}
	if ttl <= 0 {
		t.remove(key)
		return true, nil
	}
	updated := *r
	updated.expireAt = t.nowMs + ttl.Milliseconds()
	t.put(key, &updated)
	return true, nil
}

// PTTL returns the remaining time to live in milliseconds, -1 when key
// has no expiry and -2 when key does not exist
func (t *Txn) PTTL(key string) (int64, error) {
	r, err := t.load(key)
	if err != nil {
		return 0, err
	}
	switch {
	case r == nil:
		return -2, nil
	case r.expireAt == 0:
		return -1, nil
	default:
		return r.expireAt - t.nowMs, nil
	}
}

// Persist removes the expiry of key
func (t *Txn) Persist(key string) (bool, error) {
	r, err := t.load(key)
	if err != nil || r == nil || r.expireAt == 0 {
		return false, err
	}
	updated := *r
	updated.expireAt = 0
	t.put(key, &updated)
	return true, nil
}

// Keys returns the live keys of the current database matching pattern,
// in ascending order
func (t *Txn) Keys(pattern string) ([]string, error) {
	var keys []string
	err := t.scan(func(key string) {
		if MatchPattern(key, pattern) {
			keys = append(keys, key)
		}
	})
	return keys, err
}

// DBSize returns the number of live keys in the current database
func (t *Txn) DBSize() (int64, error) {
	var n int64
	err := t.scan(func(string) { n++ })
	return n, err
}

// scan visits every live key of the current database, merging staged
// writes over the engine contents
func (t *Txn) scan(fn func(key string)) error {
	if err := t.check(); err != nil {
		return err
	}
	prefix := UserPrefix(t.db)
	live := make(map[string]struct{})

	err := t.store.kv.Scan(prefix, func(raw, value []byte) error {
		if _, ok := t.overlay[string(raw)]; ok {
			return nil
		}
		r, err := decodeRecord(value)
		if err != nil {
			return err
		}
		if !r.expired(t.nowMs) {
			live[string(raw[len(prefix):])] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for raw, st := range t.overlay {
		if len(raw) < len(prefix) || raw[:len(prefix)] != string(prefix) {
			continue
		}
		if st.rec != nil && !st.rec.expired(t.nowMs) {
			live[raw[len(prefix):]] = struct{}{}
		}
	}

	keys := make([]string, 0, len(live))
	for k := range live {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fn(k)
	}
	return nil
}

// loadHash returns the fields of the hash at key, nil when missing
func (t *Txn) loadHash(key string) (*record, map[string][]byte, error) {
	r, err := t.load(key)
	if err != nil || r == nil {
		return nil, nil, err
	}
	if r.typ != ValueTypeHash {
		return nil, nil, ErrWrongType
	}
	fields, err := decodeHash(r.payload)
	if err != nil {
		return nil, nil, err
	}
	return r, fields, nil
}

// HGet returns the value of field in the hash at key
func (t *Txn) HGet(key, field string) ([]byte, bool, error) {
	_, fields, err := t.loadHash(key)
	if err != nil || fields == nil {
		return nil, false, err
	}
	v, ok := fields[field]
	return v, ok, nil
}

// HSet sets field/value pairs on the hash at key and returns how many
// fields were added
func (t *Txn) HSet(key string, pairs ...Field) (int64, error) {
	r, fields, err := t.loadHash(key)
	if err != nil {
		return 0, err
	}
	if fields == nil {
		r = &record{typ: ValueTypeHash}
		fields = make(map[string][]byte, len(pairs))
	}

	var added int64
	for _, p := range pairs {
		if _, ok := fields[p.Name]; !ok {
			added++
		}
		fields[p.Name] = append([]byte(nil), p.Value...)
	}
	t.put(key, &record{typ: ValueTypeHash, expireAt: r.expireAt, payload: encodeHash(fields)})
	return added, nil
}

// HDel removes fields from the hash at key. An emptied hash is deleted.
func (t *Txn) HDel(key string, names ...string) (int64, error) {
	r, fields, err := t.loadHash(key)
	if err != nil || fields == nil {
		return 0, err
	}
	var removed int64
	for _, name := range names {
		if _, ok := fields[name]; ok {
			delete(fields, name)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if len(fields) == 0 {
		t.remove(key)
	} else {
		t.put(key, &record{typ: ValueTypeHash, expireAt: r.expireAt, payload: encodeHash(fields)})
	}
	return removed, nil
}

// HGetAll returns every field of the hash at key sorted by name
func (t *Txn) HGetAll(key string) ([]Field, error) {
	_, fields, err := t.loadHash(key)
	if err != nil || fields == nil {
		return nil, err
	}
	out := make([]Field, 0, len(fields))
	for name, value := range fields {
		out = append(out, Field{Name: name, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// HLen returns the number of fields in the hash at key
func (t *Txn) HLen(key string) (int64, error) {
	_, fields, err := t.loadHash(key)
	return int64(len(fields)), err
}

// HExists reports whether field exists in the hash at key
func (t *Txn) HExists(key, field string) (bool, error) {
	_, ok, err := t.HGet(key, field)
	return ok, err
}
