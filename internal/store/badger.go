package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/Tyrowin/roomchat/internal/chat"
)

const (
	messagePrefix  = "msg:"
	roomIDPrefix   = "room:id:"
	roomNamePrefix = "room:name:"
	sequenceKey    = "seq:messages"
)

var cborEnc = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Badger stores rooms and messages in an embedded badger database.
//
// Message keys are msg:{roomID}:{unixnano}:{seq}, both numbers zero padded,
// so a forward prefix scan yields history in (CreatedAt, Seq) order.
type Badger struct {
	db  *badger.DB
	seq *badger.Sequence
	log *slog.Logger
}

var (
	_ MessageStore = (*Badger)(nil)
	_ RoomStore    = (*Badger)(nil)
)

// OpenBadger opens the database at path. An empty path opens an in-memory
// database.
func OpenBadger(path string, logger *slog.Logger) (*Badger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(badgerLogger{log: logger.With("component", "badger")}).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return NewBadger(db, logger)
}

// NewBadger wraps an already opened database.
func NewBadger(db *badger.DB, logger *slog.Logger) (*Badger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	seq, err := db.GetSequence([]byte(sequenceKey), 128)
	if err != nil {
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	return &Badger{db: db, seq: seq, log: logger}, nil
}

// Close releases the sequence lease and closes the database.
func (s *Badger) Close() error {
	return errors.Join(s.seq.Release(), s.db.Close())
}

func messageKey(roomID string, createdAt time.Time, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%019d:%020d", messagePrefix, roomID, createdAt.UnixNano(), seq))
}

func roomMessagesPrefix(roomID string) []byte {
	return []byte(messagePrefix + roomID + ":")
}

func (s *Badger) Append(_ context.Context, msg chat.Message) (chat.Message, error) {
	seq, err := s.seq.Next()
	if err != nil {
		return chat.Message{}, fmt.Errorf("next message seq: %w", err)
	}
	msg.Seq = seq

	value, err := cborEnc.Marshal(msg)
	if err != nil {
		return chat.Message{}, fmt.Errorf("encode message: %w", err)
	}
	key := messageKey(msg.RoomID, msg.CreatedAt, seq)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	}); err != nil {
		return chat.Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (s *Badger) History(_ context.Context, roomID string, limit int) ([]chat.Message, error) {
	prefix := roomMessagesPrefix(roomID)
	var history []chat.Message

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = limit > 0
		it := txn.NewIterator(opts)
		defer it.Close()

		start := prefix
		if opts.Reverse {
			start = append(append([]byte{}, prefix...), 0xFF)
		}
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			var msg chat.Message
			if err := it.Item().Value(func(val []byte) error {
				return cbor.Unmarshal(val, &msg)
			}); err != nil {
				return fmt.Errorf("decode message %q: %w", it.Item().Key(), err)
			}
			history = append(history, msg)
			if limit > 0 && len(history) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	if limit > 0 {
		for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
			history[i], history[j] = history[j], history[i]
		}
	}
	return history, nil
}

func (s *Badger) Clear(_ context.Context, roomID string) error {
	return s.deletePrefix(roomMessagesPrefix(roomID))
}

func (s *Badger) DeleteAll(ctx context.Context, roomID string) error {
	return s.Clear(ctx, roomID)
}

func (s *Badger) deletePrefix(prefix []byte) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %q: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("delete %q: %w", key, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush deletes for %q: %w", prefix, err)
	}
	s.log.Debug("deleted keys", "prefix", string(prefix), "count", len(keys))
	return nil
}

func (s *Badger) CreateRoom(_ context.Context, room chat.Room) error {
	value, err := cborEnc.Marshal(room)
	if err != nil {
		return fmt.Errorf("encode room: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		nameKey := []byte(roomNamePrefix + room.Name)
		_, err := txn.Get(nameKey)
		if err == nil {
			return ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(nameKey, []byte(room.ID)); err != nil {
			return err
		}
		return txn.Set([]byte(roomIDPrefix+room.ID), value)
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrAlreadyExists
	}
	return err
}

func (s *Badger) RoomByName(_ context.Context, name string) (chat.Room, error) {
	var room chat.Room
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(roomNamePrefix + name))
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		room, err = getRoom(txn, string(id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return chat.Room{}, ErrNotFound
	}
	return room, err
}

func (s *Badger) ListRooms(_ context.Context) ([]chat.Room, error) {
	var rooms []chat.Room
	prefix := []byte(roomIDPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var room chat.Room
			if err := it.Item().Value(func(val []byte) error {
				return cbor.Unmarshal(val, &room)
			}); err != nil {
				return err
			}
			rooms = append(rooms, room)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	sortRooms(rooms)
	return rooms, nil
}

func (s *Badger) DeleteRoom(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		room, err := getRoom(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete([]byte(roomNamePrefix + room.Name)); err != nil {
			return err
		}
		return txn.Delete([]byte(roomIDPrefix + id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

func getRoom(txn *badger.Txn, id string) (chat.Room, error) {
	item, err := txn.Get([]byte(roomIDPrefix + id))
	if err != nil {
		return chat.Room{}, err
	}
	var room chat.Room
	err = item.Value(func(val []byte) error {
		return cbor.Unmarshal(val, &room)
	})
	return room, err
}

// badgerLogger routes badger's printf-style logs into slog.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
