package storage

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"chat-backend/internal/storage/zapadapter"
)

var (
	ErrUserExists       = errors.New("user already exists")
	ErrUserNotExist     = errors.New("user does not exist")
	ErrChatExists       = errors.New("chat already exists")
	ErrChatBadUsers     = errors.New("bad users list")
	ErrChatNotExist     = errors.New("chat does not exist")
	ErrMessageBadChat   = errors.New("bad chat id")
	ErrMessageBadAuthor = errors.New("bad author id")
)

//go:embed schema.sql
var schema string

// Store defines fields used in db interaction processes
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// New sets provided zap.Logger via zapadapter to pgxpool.Pool and returns instance of Store struct
func New(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())
	config.ConnConfig.LogLevel = pgx.LogLevelInfo

	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	s := &Store{
		logger: logger,
		db:     pool,
	}

	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return s, nil
}

// Migrate creates tables and indexes if they do not exist yet
func (s *Store) Migrate(ctx context.Context) error {
	s.logger.Debug("Applying schema")
	_, err := s.db.Exec(ctx, schema)
	return err
}

// Close closes all pool connections
func (s *Store) Close() {
	s.db.Close()
}

func pgCode(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// CreateUser creates user and returns it with its id set.
func (s *Store) CreateUser(ctx context.Context, name, email, passwordHash string) (User, error) {
	s.logger.Debugf("Creating user (%s)", email)

	u := User{Name: name, Email: email, PasswordHash: passwordHash, CreatedAt: time.Now().UTC()}
	sql := "insert into users (name, email, password_hash, created_at) values ($1, $2, $3, $4) returning id"
	err := s.db.QueryRow(ctx, sql, name, email, passwordHash, u.CreatedAt).Scan(&u.ID)
	if err != nil {
		if pgErr, ok := pgCode(err); ok && pgErr.Code == pgerrcode.UniqueViolation {
			return User{}, ErrUserExists
		}
		return User{}, err
	}

	s.logger.Debugf("Created user (%s) with id %d", email, u.ID)

	return u, nil
}

// UserByEmail returns user with its password hash.
func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	sql := "select id, name, email, password_hash, created_at from users where email = $1"
	err := s.db.QueryRow(ctx, sql, email).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotExist
		}
		return User{}, err
	}
	return u, nil
}

// SearchUsers returns users whose name or email contains query (case-insensitive),
// excluding the user with id exclude. Blank query matches everyone.
func (s *Store) SearchUsers(ctx context.Context, query string, exclude int64) ([]User, error) {
	s.logger.Debugf("Searching users (%q)", query)

	sql := `select id, name, email, created_at
			  from users
			 where id <> $1
			   and ($2 = '' or strpos(lower(name), lower($2)) > 0 or strpos(lower(email), lower($2)) > 0)
			 order by id`

	rows, err := s.db.Query(ctx, sql, exclude, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

// CreateChat performs two-step transaction to create chat
// (1. insert chat record; 2. bulk insert on "chat-users" table) and returns its id.
// Direct chats are keyed by their unordered user pair, a second direct chat
// for the same pair fails with ErrChatExists.
func (s *Store) CreateChat(ctx context.Context, nc NewChat) (int64, error) {
	users := lo.Uniq(nc.Users)
	s.logger.Debugf("Creating chat (%s) with users (%v)", nc.Name, users)

	var admin pgtype.Int8
	var key pgtype.Text
	if nc.IsGroup {
		admin = pgtype.Int8{Int: nc.Admin, Status: pgtype.Present}
		key = pgtype.Text{Status: pgtype.Null}
	} else {
		admin = pgtype.Int8{Status: pgtype.Null}
		key = pgtype.Text{String: DirectKey(lo.Min(users), lo.Max(users)), Status: pgtype.Present}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	// error handling can be omitted for rollback according docs
	defer tx.Rollback(context.Background())

	var id int64
	now := time.Now().UTC()
	sql := `insert into chats (name, is_group, group_admin_id, direct_key, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $5) returning id`
	err = tx.QueryRow(ctx, sql, nc.Name, nc.IsGroup, admin, key, now).Scan(&id)
	if err != nil {
		if pgErr, ok := pgCode(err); ok {
			switch pgErr.Code {
			case pgerrcode.UniqueViolation:
				return 0, ErrChatExists
			case pgerrcode.ForeignKeyViolation:
				return 0, ErrChatBadUsers
			}
		}
		return 0, err
	}

	_, err = tx.CopyFrom(ctx, pgx.Identifier{"chat_users"}, []string{"chat_id", "user_id"}, copyFromMembers(id, users))
	if err != nil {
		if pgErr, ok := pgCode(err); ok && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return 0, ErrChatBadUsers
		}
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	s.logger.Debugf("Created chat (%s) with id %d", nc.Name, id)

	return id, nil
}

const chatSelect = `
	select c.id, c.name, c.is_group, c.created_at, c.updated_at,
		   coalesce((select jsonb_agg(jsonb_build_object('id', u.id, 'name', u.name, 'email', u.email, 'createdAt', u.created_at) order by u.id)
					   from chat_users cu
					   join users u on u.id = cu.user_id
					  where cu.chat_id = c.id), '[]'::jsonb),
		   ga.id, ga.name, ga.email, ga.created_at,
		   m.id, m.content, m.created_at,
		   ms.id, ms.name, ms.email, ms.created_at
	  from chats c
	  left join users ga on ga.id = c.group_admin_id
	  left join messages m on m.id = c.latest_message_id
	  left join users ms on ms.id = m.sender_id`

type nullUser struct {
	id        pgtype.Int8
	name      pgtype.Text
	email     pgtype.Text
	createdAt pgtype.Timestamptz
}

func (n *nullUser) dest() []interface{} {
	return []interface{}{&n.id, &n.name, &n.email, &n.createdAt}
}

func (n *nullUser) user() *User {
	if n.id.Status != pgtype.Present {
		return nil
	}
	return &User{ID: n.id.Int, Name: n.name.String, Email: n.email.String, CreatedAt: n.createdAt.Time}
}

func scanChat(row pgx.Row) (Chat, error) {
	var (
		c         Chat
		users     pgtype.JSONB
		admin     nullUser
		msgID     pgtype.Int8
		msgText   pgtype.Text
		msgTime   pgtype.Timestamptz
		msgSender nullUser
	)

	dest := []interface{}{&c.ID, &c.Name, &c.IsGroup, &c.CreatedAt, &c.UpdatedAt, &users}
	dest = append(dest, admin.dest()...)
	dest = append(dest, &msgID, &msgText, &msgTime)
	dest = append(dest, msgSender.dest()...)

	if err := row.Scan(dest...); err != nil {
		return Chat{}, err
	}

	if err := users.AssignTo(&c.Users); err != nil {
		return Chat{}, err
	}
	c.GroupAdmin = admin.user()

	if msgID.Status == pgtype.Present {
		m := &Message{ID: msgID.Int, ChatID: c.ID, Content: msgText.String, CreatedAt: msgTime.Time}
		if sender := msgSender.user(); sender != nil {
			m.Sender = *sender
		}
		c.LatestMessage = m
	}

	return c, nil
}

// ChatByID returns chat with members, group admin and latest message resolved
func (s *Store) ChatByID(ctx context.Context, id int64) (Chat, error) {
	c, err := scanChat(s.db.QueryRow(ctx, chatSelect+" where c.id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Chat{}, ErrChatNotExist
		}
		return Chat{}, err
	}
	return c, nil
}

// FindDirectChat returns the direct chat of the unordered pair (a, b)
func (s *Store) FindDirectChat(ctx context.Context, a, b int64) (Chat, error) {
	s.logger.Debugf("Looking up direct chat for users (%d, %d)", a, b)

	sql := chatSelect + " where c.is_group = false and c.direct_key = $1"
	c, err := scanChat(s.db.QueryRow(ctx, sql, DirectKey(a, b)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Chat{}, ErrChatNotExist
		}
		return Chat{}, err
	}
	return c, nil
}

// ChatsByUserID returns a list of all chats the user is a member of, sorted by
// the time of the last activity in the chat (from latest to oldest)
func (s *Store) ChatsByUserID(ctx context.Context, user int64) ([]Chat, error) {
	s.logger.Debugf("Retrieving chats for user (id: %d)", user)

	sql := chatSelect + `
	 where exists (select 1 from chat_users me where me.chat_id = c.id and me.user_id = $1)
	 order by c.updated_at desc, c.id desc`

	rows, err := s.db.Query(ctx, sql, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := []Chat{}
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.Debugf("Retrieved %d chats", len(chats))

	return chats, nil
}

// RenameChat sets a new chat name
func (s *Store) RenameChat(ctx context.Context, id int64, name string) error {
	s.logger.Debugf("Renaming chat (id: %d) to (%s)", id, name)

	tag, err := s.db.Exec(ctx, "update chats set name = $2 where id = $1", id, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrChatNotExist
	}
	return nil
}

// touchChat bumps updated_at inside tx and reports ErrChatNotExist for unknown chats
func touchChat(ctx context.Context, tx pgx.Tx, id int64) error {
	tag, err := tx.Exec(ctx, "update chats set updated_at = $2 where id = $1", id, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrChatNotExist
	}
	return nil
}

// AddChatUser adds user to chat members. Adding an existing member is a no-op.
func (s *Store) AddChatUser(ctx context.Context, chat, user int64) error {
	s.logger.Debugf("Adding user (id: %d) to chat (id: %d)", user, chat)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(context.Background())

	if err := touchChat(ctx, tx, chat); err != nil {
		return err
	}

	sql := "insert into chat_users (chat_id, user_id) values ($1, $2) on conflict do nothing"
	if _, err := tx.Exec(ctx, sql, chat, user); err != nil {
		if pgErr, ok := pgCode(err); ok && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrUserNotExist
		}
		return err
	}

	return tx.Commit(ctx)
}

// RemoveChatUser removes user from chat members. The member count is not checked.
func (s *Store) RemoveChatUser(ctx context.Context, chat, user int64) error {
	s.logger.Debugf("Removing user (id: %d) from chat (id: %d)", user, chat)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(context.Background())

	if err := touchChat(ctx, tx, chat); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, "delete from chat_users where chat_id = $1 and user_id = $2", chat, user); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CreateMessage creates new message in database and returns it with the sender resolved
func (s *Store) CreateMessage(ctx context.Context, chat, sender int64, content string) (Message, error) {
	s.logger.Debugf("Creating message from user (id: %d) in chat (id: %d)", sender, chat)

	sql := `with m as (
				insert into messages (chat_id, sender_id, content, created_at)
				values ($1, $2, $3, $4)
				returning id, chat_id, sender_id, content, created_at
			)
			select m.id, m.chat_id, m.content, m.created_at, u.id, u.name, u.email, u.created_at
			  from m
			  join users u on u.id = m.sender_id`

	var m Message
	err := s.db.QueryRow(ctx, sql, chat, sender, content, time.Now().UTC()).Scan(
		&m.ID, &m.ChatID, &m.Content, &m.CreatedAt,
		&m.Sender.ID, &m.Sender.Name, &m.Sender.Email, &m.Sender.CreatedAt,
	)
	if err != nil {
		if pgErr, ok := pgCode(err); ok && pgErr.Code == pgerrcode.ForeignKeyViolation {
			switch pgErr.ConstraintName {
			case "messages_chat_id_fkey":
				return Message{}, ErrMessageBadChat
			case "messages_sender_id_fkey":
				return Message{}, ErrMessageBadAuthor
			}
		}
		return Message{}, err
	}

	return m, nil
}

// SetLatestMessage points the chat to message and bumps its updated_at.
// The pointer never moves back to an older message.
func (s *Store) SetLatestMessage(ctx context.Context, chat, message int64) error {
	sql := "update chats set latest_message_id = greatest(latest_message_id, $2), updated_at = $3 where id = $1"
	tag, err := s.db.Exec(ctx, sql, chat, message, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrChatNotExist
	}
	return nil
}

// MessagesByChatID returns list of all chat messages in insertion order
// (from earliest to latest) with sender and chat resolved
func (s *Store) MessagesByChatID(ctx context.Context, chat int64) ([]Message, error) {
	s.logger.Debugf("Retrieving messages for chat (id: %d)", chat)

	var c Chat
	sql := "select id, name, is_group, created_at, updated_at from chats where id = $1"
	err := s.db.QueryRow(ctx, sql, chat).Scan(&c.ID, &c.Name, &c.IsGroup, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChatNotExist
		}
		return nil, err
	}

	sql = `select m.id, m.content, m.created_at, u.id, u.name, u.email, u.created_at
			 from messages m
			 join users u on u.id = m.sender_id
			where m.chat_id = $1
			order by m.id asc`

	rows, err := s.db.Query(ctx, sql, chat)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		m := Message{ChatID: chat, Chat: &c}
		err = rows.Scan(&m.ID, &m.Content, &m.CreatedAt, &m.Sender.ID, &m.Sender.Name, &m.Sender.Email, &m.Sender.CreatedAt)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.Debugf("Retrieved %d messages", len(messages))

	return messages, nil
}
