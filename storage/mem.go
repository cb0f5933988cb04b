package storage

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-pg/pg/v10/orm"

	"github.com/polymesh-project/prism/model"
)

// MemStorage is an in-memory store implementing the same surface as
// Database. It is used by tests and supports transactional staging with
// read-your-writes visibility inside a transaction.
type MemStorage struct {
	mu     sync.Mutex
	tables map[string]map[string]interface{}
}

var _ TxRunner = (*MemStorage)(nil)
var _ model.Storage = (*MemStorage)(nil)

func NewMemStorage() *MemStorage {
	return &MemStorage{
		tables: map[string]map[string]interface{}{},
	}
}

func stripQuotes(s string) string {
	return strings.Trim(s, `"`)
}

// tableAndKey resolves the sql table name and primary key of a model pointer
// using its go-pg metadata.
func tableAndKey(m interface{}) (string, string, error) {
	v := reflect.ValueOf(m)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return "", "", ErrMarshalUnsupportedType
	}
	elem := v.Elem()
	t := orm.GetTable(elem.Type())
	name := stripQuotes(string(t.SQLNameForSelects))

	parts := make([]string, 0, len(t.PKs))
	for _, f := range t.PKs {
		parts = append(parts, fmt.Sprint(f.Value(elem).Interface()))
	}
	return name, strings.Join(parts, "/"), nil
}

// copyInto copies the struct pointed to by src into the struct pointed to by dst.
func copyInto(dst, src interface{}) {
	reflect.ValueOf(dst).Elem().Set(reflect.ValueOf(src).Elem())
}

// clone returns a fresh pointer to a copy of the struct pointed to by m.
func clone(m interface{}) interface{} {
	v := reflect.ValueOf(m).Elem()
	c := reflect.New(v.Type())
	c.Elem().Set(v)
	return c.Interface()
}

// fieldMatches reports whether the model's column equals value.
func fieldMatches(m interface{}, column string, value interface{}) bool {
	elem := reflect.ValueOf(m).Elem()
	t := orm.GetTable(elem.Type())
	for _, f := range t.Fields {
		if string(f.SQLName) == column {
			return reflect.DeepEqual(f.Value(elem).Interface(), value)
		}
	}
	return false
}

func (s *MemStorage) PersistModel(ctx context.Context, m interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(m)
}

func (s *MemStorage) persistLocked(m interface{}) error {
	table, key, err := tableAndKey(m)
	if err != nil {
		return err
	}
	rows, ok := s.tables[table]
	if !ok {
		rows = map[string]interface{}{}
		s.tables[table] = rows
	}
	rows[key] = clone(m)
	return nil
}

func (s *MemStorage) DeleteModel(ctx context.Context, m interface{}) error {
	table, key, err := tableAndKey(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[table][key]; !ok {
		return model.ErrNotFound
	}
	delete(s.tables[table], key)
	return nil
}

// has reports whether a committed row exists. Used by transactions to give
// deletes the same not-found semantics as the database path.
func (s *MemStorage) has(table, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tables[table][key]
	return ok
}

func (s *MemStorage) GetModel(ctx context.Context, m interface{}) error {
	table, key, err := tableAndKey(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tables[table][key]
	if !ok {
		return model.ErrNotFound
	}
	copyInto(m, stored)
	return nil
}

func (s *MemStorage) SelectModels(ctx context.Context, ms interface{}, column string, value interface{}) error {
	slice := reflect.ValueOf(ms).Elem()
	s.mu.Lock()
	defer s.mu.Unlock()
	table := stripQuotes(string(orm.GetTable(slice.Type().Elem().Elem()).SQLNameForSelects))
	for _, stored := range s.tables[table] {
		if fieldMatches(stored, column, value) {
			slice.Set(reflect.Append(slice, reflect.ValueOf(clone(stored))))
		}
	}
	return nil
}

// UpdateModels mirrors the database bulk update: every model in ms replaces
// the stored row with the same primary key. Column projection is not
// simulated; callers pass fully-populated rows.
func (s *MemStorage) UpdateModels(ctx context.Context, ms interface{}, columns ...string) error {
	slice := reflect.ValueOf(ms).Elem()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < slice.Len(); i++ {
		if err := s.persistLocked(slice.Index(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

// Len reports the number of rows held for a table. Test helper.
func (s *MemStorage) Len(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[table])
}

type memEntry struct {
	val     interface{}
	deleted bool
}

type memTx struct {
	s     *MemStorage
	stage map[string]map[string]memEntry
}

var _ model.TxStore = (*memTx)(nil)

// WithTx stages all writes issued by fn and applies them to the store only
// when fn returns nil.
func (s *MemStorage) WithTx(ctx context.Context, fn func(tx model.TxStore) error) error {
	tx := &memTx{s: s, stage: map[string]map[string]memEntry{}}
	if err := fn(tx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for table, rows := range tx.stage {
		for key, e := range rows {
			if e.deleted {
				delete(s.tables[table], key)
				continue
			}
			dst, ok := s.tables[table]
			if !ok {
				dst = map[string]interface{}{}
				s.tables[table] = dst
			}
			dst[key] = e.val
		}
	}
	return nil
}

func (s *MemStorage) PersistBatch(ctx context.Context, ps ...model.Persistable) error {
	return s.WithTx(ctx, func(tx model.TxStore) error {
		return model.PersistableList(ps).Persist(ctx, tx)
	})
}

func (t *memTx) PersistModel(ctx context.Context, m interface{}) error {
	table, key, err := tableAndKey(m)
	if err != nil {
		return err
	}
	rows, ok := t.stage[table]
	if !ok {
		rows = map[string]memEntry{}
		t.stage[table] = rows
	}
	rows[key] = memEntry{val: clone(m)}
	return nil
}

func (t *memTx) DeleteModel(ctx context.Context, m interface{}) error {
	table, key, err := tableAndKey(m)
	if err != nil {
		return err
	}
	if e, staged := t.stage[table][key]; staged {
		if e.deleted {
			return model.ErrNotFound
		}
	} else if !t.s.has(table, key) {
		return model.ErrNotFound
	}
	rows, ok := t.stage[table]
	if !ok {
		rows = map[string]memEntry{}
		t.stage[table] = rows
	}
	rows[key] = memEntry{deleted: true}
	return nil
}

func (t *memTx) GetModel(ctx context.Context, m interface{}) error {
	table, key, err := tableAndKey(m)
	if err != nil {
		return err
	}
	if e, ok := t.stage[table][key]; ok {
		if e.deleted {
			return model.ErrNotFound
		}
		copyInto(m, e.val)
		return nil
	}
	return t.s.GetModel(ctx, m)
}

func (t *memTx) SelectModels(ctx context.Context, ms interface{}, column string, value interface{}) error {
	if err := t.s.SelectModels(ctx, ms, column, value); err != nil {
		return err
	}
	slice := reflect.ValueOf(ms).Elem()
	elemType := slice.Type().Elem().Elem()
	table := stripQuotes(string(orm.GetTable(elemType).SQLNameForSelects))

	// Overlay staged rows: drop deleted or superseded base rows, then add
	// staged rows that match.
	kept := reflect.MakeSlice(slice.Type(), 0, slice.Len())
	for i := 0; i < slice.Len(); i++ {
		m := slice.Index(i)
		_, key, err := tableAndKey(m.Interface())
		if err != nil {
			return err
		}
		if _, staged := t.stage[table][key]; !staged {
			kept = reflect.Append(kept, m)
		}
	}
	for _, e := range t.stage[table] {
		if e.deleted {
			continue
		}
		if fieldMatches(e.val, column, value) {
			kept = reflect.Append(kept, reflect.ValueOf(clone(e.val)))
		}
	}
	slice.Set(kept)
	return nil
}
