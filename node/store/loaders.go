package store

import (
	"ovt.dev/treasury/program"
)

func (d *DB) LoadAccounts() (map[program.AccountKey]program.Account, error) {
	out := make(map[program.AccountKey]program.Account)
	err := d.View(func(tx *Tx) error {
		return tx.tx.Bucket(bucketAccounts).ForEach(func(k, v []byte) error {
			a, err := decodeAccount(k, v)
			if err != nil {
				return err
			}
			out[a.Key] = a
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LoadActions returns every recorded action in label order.
func (d *DB) LoadActions() ([]*program.PendingAction, error) {
	var out []*program.PendingAction
	err := d.View(func(tx *Tx) error {
		return tx.tx.Bucket(bucketActions).ForEach(func(_, v []byte) error {
			a, err := decodeAction(v)
			if err != nil {
				return err
			}
			out = append(out, a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
