package promdb

import (
	"fmt"
	"time"
)

// Upgrade is handed to an UpgradeFunc. It is only valid during the call.
type Upgrade struct {
	tx         *Tx
	oldVersion uint64
	newVersion uint64
}

// OldVersion is 0 for a database that did not exist.
func (up *Upgrade) OldVersion() uint64 { return up.oldVersion }
func (up *Upgrade) NewVersion() uint64 { return up.newVersion }

// Tx is the version-change transaction, with every store in scope.
func (up *Upgrade) Tx() *Tx { return up.tx }

func (up *Upgrade) ObjectStoreNames() []string {
	return up.tx.cat.storeNames()
}

func (up *Upgrade) ObjectStore(name string) (*ObjectStore, error) {
	return up.tx.ObjectStore(name)
}

func (up *Upgrade) HasObjectStore(name string) bool {
	return up.tx.cat.store(name) != nil
}

func (up *Upgrade) CreateObjectStore(name string, key KeySpec) (*ObjectStore, error) {
	tx := up.tx
	if err := tx.checkVersionChange("createObjectStore"); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, &Error{Code: CodeInvalidAccess, Op: "createObjectStore", Msg: "empty store name"}
	}
	if err := key.validate(); err != nil {
		return nil, err
	}
	if tx.cat.store(name) != nil {
		return nil, (&Error{Code: CodeConstraint, Op: "createObjectStore", Msg: "store already exists"}).in(name, "")
	}
	if _, err := tx.stx.CreateBucket(storeBucketName(name), dataBucket); err != nil {
		return nil, &Error{Code: CodeUnknown, Op: "createObjectStore", Store: name, Err: err}
	}
	ss := &storeState{
		Name:          name,
		KeyPath:       key.KeyPath,
		AutoIncrement: key.AutoIncrement,
		Created:       time.Now().UTC(),
	}
	tx.cat.Stores = append(tx.cat.Stores, ss)
	tx.catDirty = true
	tx.conn.logger.Debug("promdb: created store", "db", tx.conn.name, "store", name, "keyPath", key.KeyPath.String(), "autoIncrement", key.AutoIncrement)
	return tx.ObjectStore(name)
}

func (up *Upgrade) DeleteObjectStore(name string) error {
	tx := up.tx
	if err := tx.checkVersionChange("deleteObjectStore"); err != nil {
		return err
	}
	if tx.cat.store(name) == nil {
		return (&Error{Code: CodeNotFound, Op: "deleteObjectStore", Msg: "no such store"}).in(name, "")
	}
	err := tx.stx.DeleteBucket(storeBucketName(name), "")
	if err != nil && err != ErrBucketNotFound {
		return &Error{Code: CodeUnknown, Op: "deleteObjectStore", Store: name, Err: err}
	}
	tx.cat.removeStore(name)
	delete(tx.stores, name)
	tx.catDirty = true
	tx.conn.logger.Debug("promdb: deleted store", "db", tx.conn.name, "store", name)
	return nil
}

func (up *Upgrade) String() string {
	return fmt.Sprintf("upgrade %s v%d→v%d", up.tx.conn.name, up.oldVersion, up.newVersion)
}
