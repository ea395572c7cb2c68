package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"ticketbot/config"
)

type MongoDB struct {
	client   *mongo.Client
	tickets  *mongo.Collection
	counters *mongo.Collection
	logs     *mongo.Collection
	activity *mongo.Collection
	settings *mongo.Collection
	logger   *zap.Logger
}

type ticketDoc struct {
	ID               int64      `bson:"_id"`
	GuildID          string     `bson:"guild_id"`
	ChannelID        string     `bson:"channel_id"`
	UserID           string     `bson:"user_id"`
	Number           int        `bson:"ticket_number"`
	Category         string     `bson:"category"`
	Subject          string     `bson:"subject"`
	Priority         string     `bson:"priority"`
	Status           string     `bson:"status"`
	CreatedAt        time.Time  `bson:"created_at"`
	ClosedAt         *time.Time `bson:"closed_at,omitempty"`
	ClosedBy         string     `bson:"closed_by,omitempty"`
	CloseReason      string     `bson:"close_reason,omitempty"`
	SummaryMessageID string     `bson:"summary_message_id,omitempty"`
	Rating           *int       `bson:"rating,omitempty"`
	Feedback         string     `bson:"feedback,omitempty"`
}

type actionLogDoc struct {
	ID           int64          `bson:"_id"`
	GuildID      string         `bson:"guild_id"`
	TicketID     int64          `bson:"ticket_id"`
	TicketNumber int            `bson:"ticket_number"`
	UserID       string         `bson:"user_id"`
	Action       string         `bson:"action"`
	Details      map[string]any `bson:"details"`
	CreatedAt    time.Time      `bson:"created_at"`
}

type settingsDoc struct {
	GuildID              string `bson:"_id"`
	TicketLogsChannelID  string `bson:"ticket_logs_channel_id"`
	RulesChannelID       string `bson:"rules_channel_id"`
	TicketChatbotEnabled bool   `bson:"ticket_chatbot_enabled"`
}

func OpenMongo(ctx context.Context, cfg config.MongoDBConfig, logger *zap.Logger) (*MongoDB, error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, errors.New("database.mongodb.uri and database.mongodb.database must be set to use driver=mongodb")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(cfg.Database)
	logger.Info("connected to mongodb", zap.String("database", cfg.Database))
	return &MongoDB{
		client:   client,
		tickets:  db.Collection("tickets"),
		counters: db.Collection("counters"),
		logs:     db.Collection("ticket_action_logs"),
		activity: db.Collection("ticket_staff_activity"),
		settings: db.Collection("guild_settings"),
		logger:   logger,
	}, nil
}

func (m *MongoDB) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoDB) Migrate(ctx context.Context) error {
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{m.tickets, mongo.IndexModel{
			Keys:    bson.D{{Key: "guild_id", Value: 1}, {Key: "ticket_number", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{m.tickets, mongo.IndexModel{
			Keys:    bson.D{{Key: "channel_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{m.tickets, mongo.IndexModel{
			Keys: bson.D{{Key: "guild_id", Value: 1}, {Key: "user_id", Value: 1}, {Key: "status", Value: 1}},
		}},
		{m.logs, mongo.IndexModel{Keys: bson.D{{Key: "ticket_id", Value: 1}}}},
		{m.activity, mongo.IndexModel{Keys: bson.D{{Key: "guild_id", Value: 1}, {Key: "staff_id", Value: 1}}}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			return fmt.Errorf("mongo index on %s: %w", idx.coll.Name(), err)
		}
	}
	// Documents written before priority existed get the category default.
	_, err := m.tickets.UpdateMany(ctx,
		bson.M{"priority": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"priority": string(PriorityMedium)}},
	)
	return err
}

// nextSeq increments and returns the counter document with the given id.
func (m *MongoDB) nextSeq(ctx context.Context, id string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := m.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

func (m *MongoDB) NextTicketNumber(ctx context.Context, guildID string) (int, error) {
	n, err := m.nextSeq(ctx, "ticket_number:"+guildID)
	if err != nil {
		return 0, fmt.Errorf("next ticket number: %w", err)
	}
	return int(n), nil
}

func (m *MongoDB) CreateTicket(ctx context.Context, t *Ticket) error {
	id, err := m.nextSeq(ctx, "tickets")
	if err != nil {
		return fmt.Errorf("ticket id: %w", err)
	}
	doc := ticketDoc{
		ID:        id,
		GuildID:   t.GuildID,
		ChannelID: t.ChannelID,
		UserID:    t.UserID,
		Number:    t.Number,
		Category:  t.Category,
		Subject:   t.Subject,
		Priority:  string(t.Priority),
		Status:    string(t.Status),
		CreatedAt: t.CreatedAt.UTC(),
	}
	if _, err := m.tickets.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	t.ID = id
	return nil
}

func (m *MongoDB) findTicket(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) (*Ticket, error) {
	var doc ticketDoc
	err := m.tickets.FindOne(ctx, filter, opts...).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.ticket(), nil
}

func (m *MongoDB) TicketByID(ctx context.Context, id int64) (*Ticket, error) {
	return m.findTicket(ctx, bson.M{"_id": id})
}

func (m *MongoDB) TicketByChannel(ctx context.Context, channelID string) (*Ticket, error) {
	return m.findTicket(ctx, bson.M{"channel_id": channelID})
}

func (m *MongoDB) ActiveTicketForUser(ctx context.Context, guildID, userID string) (*Ticket, error) {
	return m.findTicket(ctx,
		bson.M{"guild_id": guildID, "user_id": userID, "status": bson.M{"$in": activeStatusStrings()}},
		options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}}),
	)
}

func (m *MongoDB) ListActiveTickets(ctx context.Context, guildID string) ([]Ticket, error) {
	cursor, err := m.tickets.Find(ctx,
		bson.M{"guild_id": guildID, "status": bson.M{"$in": activeStatusStrings()}},
		options.Find().SetSort(bson.D{{Key: "ticket_number", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []ticketDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]Ticket, 0, len(docs))
	for _, d := range docs {
		out = append(out, *d.ticket())
	}
	return out, nil
}

func (m *MongoDB) UpdateStatus(ctx context.Context, id int64, u StatusUpdate) error {
	set := bson.M{
		"status":       string(u.To),
		"closed_by":    u.ClosedBy,
		"close_reason": u.CloseReason,
	}
	update := bson.M{"$set": set}
	if u.ClosedAt != nil {
		set["closed_at"] = u.ClosedAt.UTC()
	} else {
		update["$unset"] = bson.M{"closed_at": ""}
	}
	res, err := m.tickets.UpdateOne(ctx, bson.M{"_id": id, "status": string(u.From)}, update)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return m.expectOne(ctx, res, id, ErrStatusConflict)
}

func (m *MongoDB) UpdatePriority(ctx context.Context, id int64, p Priority) error {
	res, err := m.tickets.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"priority": string(p)}})
	if err != nil {
		return err
	}
	return m.expectOne(ctx, res, id, ErrNotFound)
}

func (m *MongoDB) SetSummaryMessage(ctx context.Context, id int64, messageID string) error {
	res, err := m.tickets.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"summary_message_id": messageID}})
	if err != nil {
		return err
	}
	return m.expectOne(ctx, res, id, ErrNotFound)
}

func (m *MongoDB) SetRating(ctx context.Context, id int64, rating int, feedback string) error {
	res, err := m.tickets.UpdateOne(ctx,
		bson.M{
			"_id":    id,
			"status": bson.M{"$in": []string{string(StatusClosed), string(StatusDeleted)}},
			"rating": bson.M{"$exists": false},
		},
		bson.M{"$set": bson.M{"rating": rating, "feedback": feedback}},
	)
	if err != nil {
		return fmt.Errorf("set rating: %w", err)
	}
	return m.expectOne(ctx, res, id, ErrNotRateable)
}

func (m *MongoDB) expectOne(ctx context.Context, res *mongo.UpdateResult, id int64, miss error) error {
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := m.tickets.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return miss
}

func (m *MongoDB) AppendActionLog(ctx context.Context, e *ActionLogEntry) error {
	id, err := m.nextSeq(ctx, "ticket_action_logs")
	if err != nil {
		return err
	}
	_, err = m.logs.InsertOne(ctx, actionLogDoc{
		ID:           id,
		GuildID:      e.GuildID,
		TicketID:     e.TicketID,
		TicketNumber: e.TicketNumber,
		UserID:       e.UserID,
		Action:       string(e.Action),
		Details:      e.Details,
		CreatedAt:    e.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("insert action log: %w", err)
	}
	e.ID = id
	return nil
}

func (m *MongoDB) ActionLogs(ctx context.Context, ticketID int64) ([]ActionLogEntry, error) {
	cursor, err := m.logs.Find(ctx, bson.M{"ticket_id": ticketID}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []actionLogDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]ActionLogEntry, 0, len(docs))
	for _, d := range docs {
		out = append(out, ActionLogEntry{
			ID:           d.ID,
			GuildID:      d.GuildID,
			TicketID:     d.TicketID,
			TicketNumber: d.TicketNumber,
			UserID:       d.UserID,
			Action:       Action(d.Action),
			Details:      d.Details,
			CreatedAt:    d.CreatedAt,
		})
	}
	return out, nil
}

func (m *MongoDB) RecordStaffActivity(ctx context.Context, a *StaffActivity) error {
	id, err := m.nextSeq(ctx, "ticket_staff_activity")
	if err != nil {
		return err
	}
	_, err = m.activity.InsertOne(ctx, bson.M{
		"_id":         id,
		"guild_id":    a.GuildID,
		"ticket_id":   a.TicketID,
		"staff_id":    a.StaffID,
		"action_type": a.ActionType,
		"created_at":  a.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("insert staff activity: %w", err)
	}
	a.ID = id
	return nil
}

func (m *MongoDB) GuildSettings(ctx context.Context, guildID string) (GuildSettings, error) {
	var doc settingsDoc
	err := m.settings.FindOne(ctx, bson.M{"_id": guildID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return GuildSettings{GuildID: guildID}, nil
	}
	if err != nil {
		return GuildSettings{GuildID: guildID}, err
	}
	return GuildSettings{
		GuildID:              guildID,
		TicketLogsChannelID:  doc.TicketLogsChannelID,
		RulesChannelID:       doc.RulesChannelID,
		TicketChatbotEnabled: doc.TicketChatbotEnabled,
	}, nil
}

func (m *MongoDB) SaveGuildSettings(ctx context.Context, gs GuildSettings) error {
	_, err := m.settings.ReplaceOne(ctx,
		bson.M{"_id": gs.GuildID},
		settingsDoc{
			GuildID:              gs.GuildID,
			TicketLogsChannelID:  gs.TicketLogsChannelID,
			RulesChannelID:       gs.RulesChannelID,
			TicketChatbotEnabled: gs.TicketChatbotEnabled,
		},
		options.Replace().SetUpsert(true),
	)
	return err
}

func (d ticketDoc) ticket() *Ticket {
	return &Ticket{
		ID:               d.ID,
		GuildID:          d.GuildID,
		ChannelID:        d.ChannelID,
		UserID:           d.UserID,
		Number:           d.Number,
		Category:         d.Category,
		Subject:          d.Subject,
		Priority:         Priority(d.Priority),
		Status:           Status(d.Status),
		CreatedAt:        d.CreatedAt,
		ClosedAt:         d.ClosedAt,
		ClosedBy:         d.ClosedBy,
		CloseReason:      d.CloseReason,
		SummaryMessageID: d.SummaryMessageID,
		Rating:           d.Rating,
		Feedback:         d.Feedback,
	}
}
