package auth

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/satori/go.uuid"
	"gopkg.in/yaml.v2"

	uuid2 "github.com/Merkerhood/paragon/uuid"
)

type dbMap map[uuid.UUID]*dbEntry

// MarshalYAML overrides the default behavior which has unstable ordering
// for the keys in the map, so the db file diffs cleanly between saves.
func (dm dbMap) MarshalYAML() (interface{}, error) {
	keys := make([]uuid.UUID, 0, len(dm))
	for key := range dm {
		keys = append(keys, key)
	}
	sort.Sort(uuid2.UUIDList(keys))

	mapItems := make(yaml.MapSlice, 0, len(dm))
	for _, key := range keys {
		mapItems = append(mapItems, yaml.MapItem{
			Key:   key,
			Value: dm[key],
		})
	}
	return mapItems, nil
}

type dbEntry struct {
	Username     string
	PasswordHash string
	MayLogin     bool
	// Characters owned by this account; the paragon daemon attaches a
	// session to the first one.
	Characters []uuid.UUID
}

type userIndexEntry struct {
	id  uuid.UUID
	ent *dbEntry
}

type accountDatabase struct {
	accountDBFile   string
	mapByID         dbMap
	indexByUsername map[string]userIndexEntry
	rwlock          *sync.RWMutex
}

func (adb *accountDatabase) load() error {
	adb.mapByID = make(dbMap)
	adb.indexByUsername = make(map[string]userIndexEntry)
	adb.rwlock = &sync.RWMutex{}
	adb.rwlock.Lock()
	defer adb.rwlock.Unlock()

	if _, err := os.Stat(adb.accountDBFile); os.IsNotExist(err) {
		// proceed with the empty map; the file is created on first save
		return nil
	}

	dbBytes, err := os.ReadFile(adb.accountDBFile)
	if err != nil {
		return fmt.Errorf("os.ReadFile(%q): %w", adb.accountDBFile, err)
	}

	unmarshallMap := make(map[uuid.UUID]dbEntry)
	if err := yaml.Unmarshal(dbBytes, unmarshallMap); err != nil {
		return fmt.Errorf("yaml.Unmarshal(): %w", err)
	}

	for id, ent := range unmarshallMap {
		entCopy := ent
		adb.mapByID[id] = &entCopy
		adb.indexByUsername[ent.Username] = userIndexEntry{
			id:  id,
			ent: &entCopy,
		}
	}
	return nil
}

func (adb *accountDatabase) save() error {
	dbBytes, err := yaml.Marshal(adb.mapByID)
	if err != nil {
		return fmt.Errorf("yaml.Marshal(): %w", err)
	}
	if err := os.WriteFile(adb.accountDBFile, dbBytes, 0600); err != nil {
		return fmt.Errorf("os.WriteFile(%q): %w", adb.accountDBFile, err)
	}
	return nil
}

func (adb *accountDatabase) getEntryByUsername(username string) (uuid.UUID, dbEntry, error) {
	adb.rwlock.RLock()
	defer adb.rwlock.RUnlock()

	var nilEntry dbEntry
	indexEnt, found := adb.indexByUsername[username]
	if !found {
		return uuid.Nil, nilEntry, errors.New("no such user in database")
	}
	return indexEnt.id, *indexEnt.ent, nil
}

func (adb *accountDatabase) putEntry(id uuid.UUID, ent dbEntry) error {
	adb.rwlock.Lock()
	defer adb.rwlock.Unlock()
	newEnt := ent
	adb.mapByID[id] = &newEnt
	adb.indexByUsername[ent.Username] = userIndexEntry{
		id:  id,
		ent: &newEnt,
	}
	return adb.save()
}
