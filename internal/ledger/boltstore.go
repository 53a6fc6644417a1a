package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/shopspring/decimal"
)

const (
	accountBucketName     = "accounts"
	cardBucketName        = "cards"
	transactionBucketName = "transactions"
	receiptItemBucketName = "receipt_items"
)

// BoltStore implements the Store interface using BoltDB. Every ApplyDelta
// runs inside a single bbolt update transaction, so the balance increment is
// serialized at the store and two concurrent mutations cannot lose an update.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore creates a new BoltStore instance
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{accountBucketName, cardBucketName, transactionBucketName, receiptItemBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (b *BoltStore) put(bucket string, id string, v any) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling record: %w", err)
		}
		return tx.Bucket([]byte(bucket)).Put([]byte(id), data)
	})
}

func (b *BoltStore) get(bucket string, id string, v any) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s %s: %w", bucket, id, ErrNotFound)
		}
		return json.Unmarshal(data, v)
	})
}

func (b *BoltStore) delete(bucket string, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt.Get([]byte(id)) == nil {
			return fmt.Errorf("%s %s: %w", bucket, id, ErrNotFound)
		}
		return bkt.Delete([]byte(id))
	})
}

// SaveAccount saves an account to the database
func (b *BoltStore) SaveAccount(account *Account) error {
	return b.put(accountBucketName, account.ID, account)
}

// GetAccount retrieves an account by ID
func (b *BoltStore) GetAccount(id string) (*Account, error) {
	var account Account
	if err := b.get(accountBucketName, id, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// ListAccounts returns all accounts
func (b *BoltStore) ListAccounts() ([]*Account, error) {
	accounts := make([]*Account, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(accountBucketName)).ForEach(func(k, v []byte) error {
			var account Account
			if err := json.Unmarshal(v, &account); err != nil {
				return fmt.Errorf("unmarshaling account: %w", err)
			}
			accounts = append(accounts, &account)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// DeleteAccount removes an account from the database
func (b *BoltStore) DeleteAccount(id string) error {
	return b.delete(accountBucketName, id)
}

// SaveCard saves a credit card to the database
func (b *BoltStore) SaveCard(card *CreditCard) error {
	return b.put(cardBucketName, card.ID, card)
}

// GetCard retrieves a credit card by ID
func (b *BoltStore) GetCard(id string) (*CreditCard, error) {
	var card CreditCard
	if err := b.get(cardBucketName, id, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// ListCards returns all credit cards
func (b *BoltStore) ListCards() ([]*CreditCard, error) {
	cards := make([]*CreditCard, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(cardBucketName)).ForEach(func(k, v []byte) error {
			var card CreditCard
			if err := json.Unmarshal(v, &card); err != nil {
				return fmt.Errorf("unmarshaling card: %w", err)
			}
			cards = append(cards, &card)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return cards, nil
}

// DeleteCard removes a credit card from the database
func (b *BoltStore) DeleteCard(id string) error {
	return b.delete(cardBucketName, id)
}

// ApplyDelta atomically adds delta.Amount to the entity's balance inside one
// update transaction. The read, the arithmetic, and the write share the
// transaction, so there is no stale-read window between them.
func (b *BoltStore) ApplyDelta(delta BalanceDelta) (DeltaResult, error) {
	var result DeltaResult
	err := b.db.Update(func(tx *bbolt.Tx) error {
		switch delta.Entity.Kind {
		case KindAccount:
			return b.applyAccountDelta(tx, delta, &result)
		case KindCard:
			return b.applyCardDelta(tx, delta, &result)
		default:
			return fmt.Errorf("unknown entity kind: %q", delta.Entity.Kind)
		}
	})
	if err != nil {
		return DeltaResult{}, err
	}
	return result, nil
}

func (b *BoltStore) applyAccountDelta(tx *bbolt.Tx, delta BalanceDelta, result *DeltaResult) error {
	bkt := tx.Bucket([]byte(accountBucketName))
	data := bkt.Get([]byte(delta.Entity.ID))
	if data == nil {
		return fmt.Errorf("account %s: %w", delta.Entity.ID, ErrNotFound)
	}
	var account Account
	if err := json.Unmarshal(data, &account); err != nil {
		return fmt.Errorf("unmarshaling account: %w", err)
	}

	newBalance := account.Balance.Add(delta.Amount)
	if newBalance.LessThan(account.OverdraftLimit.Neg()) {
		return fmt.Errorf("account %s balance %s with delta %s: %w",
			account.ID, account.Balance, delta.Amount, ErrOverdraftExceeded)
	}

	account.Balance = newBalance
	account.UpdatedAt = time.Now()
	updated, err := json.Marshal(&account)
	if err != nil {
		return fmt.Errorf("marshaling account: %w", err)
	}
	if err := bkt.Put([]byte(account.ID), updated); err != nil {
		return err
	}

	result.Applied = delta
	result.NewBalance = newBalance
	return nil
}

func (b *BoltStore) applyCardDelta(tx *bbolt.Tx, delta BalanceDelta, result *DeltaResult) error {
	bkt := tx.Bucket([]byte(cardBucketName))
	data := bkt.Get([]byte(delta.Entity.ID))
	if data == nil {
		return fmt.Errorf("card %s: %w", delta.Entity.ID, ErrNotFound)
	}
	var card CreditCard
	if err := json.Unmarshal(data, &card); err != nil {
		return fmt.Errorf("unmarshaling card: %w", err)
	}

	// Card debt floors at zero. When a payment exceeds the outstanding
	// balance, only the part that reaches zero is applied, and that clipped
	// delta is what gets recorded for later reversal.
	applied := delta.Amount
	newBalance := card.Balance.Add(applied)
	if newBalance.IsNegative() {
		applied = card.Balance.Neg()
		newBalance = decimal.Zero
	}

	card.Balance = newBalance
	card.UpdatedAt = time.Now()
	updated, err := json.Marshal(&card)
	if err != nil {
		return fmt.Errorf("marshaling card: %w", err)
	}
	if err := bkt.Put([]byte(card.ID), updated); err != nil {
		return err
	}

	result.Applied = BalanceDelta{Entity: delta.Entity, Amount: applied}
	result.NewBalance = newBalance
	result.Cleared = newBalance.IsZero() && applied.IsNegative()
	return nil
}

// ResetCardMinimumPayment forces a card's minimum payment to zero
func (b *BoltStore) ResetCardMinimumPayment(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(cardBucketName))
		data := bkt.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("card %s: %w", id, ErrNotFound)
		}
		var card CreditCard
		if err := json.Unmarshal(data, &card); err != nil {
			return fmt.Errorf("unmarshaling card: %w", err)
		}
		card.MinimumPayment = decimal.Zero
		card.UpdatedAt = time.Now()
		updated, err := json.Marshal(&card)
		if err != nil {
			return fmt.Errorf("marshaling card: %w", err)
		}
		return bkt.Put([]byte(id), updated)
	})
}

// SaveTransaction inserts or overwrites a transaction by ID
func (b *BoltStore) SaveTransaction(txn *Transaction) error {
	return b.put(transactionBucketName, txn.ID, txn)
}

// GetTransaction retrieves a transaction by ID
func (b *BoltStore) GetTransaction(id string) (*Transaction, error) {
	var txn Transaction
	if err := b.get(transactionBucketName, id, &txn); err != nil {
		return nil, err
	}
	return &txn, nil
}

// ListTransactions returns all transactions
func (b *BoltStore) ListTransactions() ([]*Transaction, error) {
	txns := make([]*Transaction, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(transactionBucketName)).ForEach(func(k, v []byte) error {
			var txn Transaction
			if err := json.Unmarshal(v, &txn); err != nil {
				return fmt.Errorf("unmarshaling transaction: %w", err)
			}
			txns = append(txns, &txn)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return txns, nil
}

// DeleteTransaction removes a transaction from the database
func (b *BoltStore) DeleteTransaction(id string) error {
	return b.delete(transactionBucketName, id)
}

// SaveReceiptItem saves a receipt item to the database
func (b *BoltStore) SaveReceiptItem(item *ReceiptItem) error {
	return b.put(receiptItemBucketName, item.ID, item)
}

// ListReceiptItems returns all receipt items attached to a transaction
func (b *BoltStore) ListReceiptItems(transactionID string) ([]*ReceiptItem, error) {
	items := make([]*ReceiptItem, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(receiptItemBucketName)).ForEach(func(k, v []byte) error {
			var item ReceiptItem
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling receipt item: %w", err)
			}
			if item.TransactionID == transactionID {
				items = append(items, &item)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Close closes the database connection
func (b *BoltStore) Close() error {
	return b.db.Close()
}

var _ Store = (*BoltStore)(nil)
