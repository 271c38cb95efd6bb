package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"guild-progression-system/config"
	"guild-progression-system/models"
)

const (
	MaxGuildNameLength        = 64
	MaxGuildDescriptionLength = 500
	MaxGuildCapacity          = 500
)

type CreateGuildInput struct {
	UserID      string `json:"-"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	EmblemURL   string `json:"emblem_url,omitempty"`
	MaxMembers  int    `json:"max_members,omitempty"`
}

// GuildDetails is a guild with its roster.
type GuildDetails struct {
	models.Guild
	Members []models.GuildMember `json:"members"`
}

// Membership is a user's seat in a guild.
type Membership struct {
	Guild    models.Guild       `json:"guild"`
	Role     models.GuildRole   `json:"role"`
	Member   models.GuildMember `json:"-"`
	IsLeader bool               `json:"is_leader"`
}

// GuildService enforces one guild per user, guild capacity, and a single
// leader per guild whose id matches Guild.LeaderID. Work for one user is
// serialized by userLocks, work on one guild by guildLocks, and a caller
// holding both always takes the user lock first.
type GuildService struct {
	DB        *gorm.DB
	Config    config.ProgressionConfig
	Retry     config.RetryConfig
	Log       *zap.Logger
	Moderator Moderator
	Now       Clock

	userLocks  *KeyedMutex
	guildLocks *KeyedMutex
	sanitizer  *bluemonday.Policy
}

func NewGuildService(db *gorm.DB, cfg config.ProgressionConfig, retry config.RetryConfig, log *zap.Logger) *GuildService {
	if log == nil {
		log = zap.NewNop()
	}
	return &GuildService{
		DB:         db,
		Config:     cfg,
		Retry:      retry,
		Log:        log.Named("guilds"),
		Moderator:  AllowAll{},
		userLocks:  NewKeyedMutex(),
		guildLocks: NewKeyedMutex(),
		sanitizer:  bluemonday.StrictPolicy(),
	}
}

func (s *GuildService) capacity(g *models.Guild) int {
	if g.MaxMembers > 0 {
		return g.MaxMembers
	}
	if s.Config.DefaultMaxMembers > 0 {
		return s.Config.DefaultMaxMembers
	}
	return config.DefaultProgression().DefaultMaxMembers
}

func (s *GuildService) normalizeCreate(in CreateGuildInput) (CreateGuildInput, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	if in.UserID == "" {
		return in, invalidInput("user_id is required")
	}

	in.Name = norm.NFC.String(strings.TrimSpace(in.Name))
	if in.Name == "" {
		return in, invalidInput("name is required")
	}
	if utf8.RuneCountInString(in.Name) > MaxGuildNameLength {
		return in, invalidInput("name must be at most %d characters", MaxGuildNameLength)
	}

	in.Description = strings.TrimSpace(s.sanitizer.Sanitize(norm.NFC.String(in.Description)))
	if utf8.RuneCountInString(in.Description) > MaxGuildDescriptionLength {
		return in, invalidInput("description must be at most %d characters", MaxGuildDescriptionLength)
	}

	in.EmblemURL = strings.TrimSpace(in.EmblemURL)
	if in.EmblemURL != "" {
		if err := validateEmblemURL(in.EmblemURL); err != nil {
			return in, err
		}
	}

	if in.MaxMembers < 0 || in.MaxMembers > MaxGuildCapacity {
		return in, invalidInput("max_members must be between 1 and %d", MaxGuildCapacity)
	}
	if in.MaxMembers == 0 {
		in.MaxMembers = s.capacity(&models.Guild{})
	}
	return in, nil
}

func validateEmblemURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return invalidInput("emblem_url must be an absolute http(s) URL")
	}
	return nil
}

func (s *GuildService) moderate(ctx context.Context, userID string, texts ...string) error {
	if s.Moderator == nil {
		return nil
	}
	content := strings.TrimSpace(strings.Join(texts, "\n"))
	if content == "" {
		return nil
	}
	flagged, err := s.Moderator.Flagged(ctx, content)
	if err != nil {
		s.Log.Warn("moderation unavailable, allowing content",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil
	}
	if flagged {
		return invalidInput("guild name or description was rejected by moderation")
	}
	return nil
}

// Create founds a guild led by the caller. The guild row and the leader's
// membership row are written in one transaction.
func (s *GuildService) Create(ctx context.Context, in CreateGuildInput) (g *models.Guild, err error) {
	defer func() { observeGuildOp("create", err) }()

	in, err = s.normalizeCreate(in)
	if err != nil {
		return nil, err
	}
	if err = s.moderate(ctx, in.UserID, in.Name, in.Description); err != nil {
		return nil, err
	}

	unlock := s.userLocks.Lock(in.UserID)
	defer unlock()

	g, err = withRetry(ctx, s.Retry, s.Log, "guild_create", func() (*models.Guild, error) {
		return s.create(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("guild created",
		zap.String("guild_id", g.ID),
		zap.String("user_id", in.UserID),
		zap.String("slug", g.Slug),
	)
	return g, nil
}

func (s *GuildService) create(ctx context.Context, in CreateGuildInput) (*models.Guild, error) {
	var guild models.Guild
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findMembership(tx, in.UserID); err == nil {
			return newError(KindAlreadyInGuild, "user %s already belongs to a guild", in.UserID)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return storeError("read membership", err)
		}

		id := uuid.NewString()
		guildSlug, err := uniqueSlug(tx, in.Name, id)
		if err != nil {
			return err
		}

		guild = models.Guild{
			ID:          id,
			Name:        in.Name,
			Slug:        guildSlug,
			Description: in.Description,
			EmblemURL:   in.EmblemURL,
			LeaderID:    in.UserID,
			MemberCount: 1,
			MaxMembers:  in.MaxMembers,
		}
		if err := tx.Create(&guild).Error; err != nil {
			return storeError("create guild", err)
		}
		leader := models.GuildMember{
			GuildID:  guild.ID,
			UserID:   in.UserID,
			Role:     models.GuildRoleLeader,
			JoinedAt: s.Now.now(),
		}
		if err := tx.Create(&leader).Error; err != nil {
			return storeError("create leader membership", err)
		}
		return nil
	})
	if err != nil {
		return nil, storeError("create guild", err)
	}
	return &guild, nil
}

// uniqueSlug derives a URL slug from the name, suffixed with part of the
// guild id when the plain slug is taken.
func uniqueSlug(tx *gorm.DB, name, id string) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = "guild"
	}
	var n int64
	if err := tx.Unscoped().Model(&models.Guild{}).Where("slug = ?", base).Count(&n).Error; err != nil {
		return "", storeError("check slug", err)
	}
	if n == 0 {
		return base, nil
	}
	return base + "-" + id[:8], nil
}

func findMembership(tx *gorm.DB, userID string) (*models.GuildMember, error) {
	var m models.GuildMember
	if err := tx.Where("user_id = ?", userID).Take(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// parseGuildID canonicalizes a guild id. Guild ids are UUIDs, so anything
// else names no guild and never reaches the store.
func parseGuildID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalidInput("guild_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", newError(KindNotFound, "guild %s not found", raw)
	}
	return id.String(), nil
}

func lockGuild(tx *gorm.DB, guildID string) (*models.Guild, error) {
	var g models.Guild
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", guildID).
		Take(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindNotFound, "guild %s not found", guildID)
	}
	if err != nil {
		return nil, storeError("read guild", err)
	}
	return &g, nil
}

// Join adds the caller to a guild as a member. The capacity check and the
// insert happen under the guild lock, and the counter only moves while it is
// below capacity.
func (s *GuildService) Join(ctx context.Context, userID, guildID string) (m *models.GuildMember, err error) {
	defer func() { observeGuildOp("join", err) }()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalidInput("user_id is required")
	}
	if guildID, err = parseGuildID(guildID); err != nil {
		return nil, err
	}

	unlockUser := s.userLocks.Lock(userID)
	defer unlockUser()
	unlockGuild := s.guildLocks.Lock(guildID)
	defer unlockGuild()

	m, err = withRetry(ctx, s.Retry, s.Log, "guild_join", func() (*models.GuildMember, error) {
		return s.join(ctx, userID, guildID)
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("guild joined", zap.String("guild_id", guildID), zap.String("user_id", userID))
	return m, nil
}

func (s *GuildService) join(ctx context.Context, userID, guildID string) (*models.GuildMember, error) {
	var member models.GuildMember
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if existing, err := findMembership(tx, userID); err == nil {
			return newError(KindAlreadyInGuild, "user %s already belongs to guild %s", userID, existing.GuildID)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return storeError("read membership", err)
		}

		g, err := lockGuild(tx, guildID)
		if err != nil {
			return err
		}
		limit := s.capacity(g)
		if g.MemberCount >= limit {
			return newError(KindGuildFull, "guild %s is full (%d/%d)", guildID, g.MemberCount, limit)
		}

		res := tx.Model(&models.Guild{}).
			Where("id = ? AND member_count < ?", guildID, limit).
			Update("member_count", gorm.Expr("member_count + 1"))
		if res.Error != nil {
			return storeError("reserve guild seat", res.Error)
		}
		if res.RowsAffected == 0 {
			return newError(KindGuildFull, "guild %s is full", guildID)
		}

		member = models.GuildMember{
			GuildID:  guildID,
			UserID:   userID,
			Role:     models.GuildRoleMember,
			JoinedAt: s.Now.now(),
		}
		if err := tx.Create(&member).Error; err != nil {
			return storeError("insert membership", err)
		}
		return nil
	})
	if err != nil {
		return nil, storeError("join guild", err)
	}
	return &member, nil
}

// Leave removes the caller from their guild. Leaders must hand over
// leadership first.
func (s *GuildService) Leave(ctx context.Context, userID string) (err error) {
	defer func() { observeGuildOp("leave", err) }()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return invalidInput("user_id is required")
	}

	unlockUser := s.userLocks.Lock(userID)
	defer unlockUser()

	current, err := findMembership(s.DB.WithContext(ctx), userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newError(KindNotInGuild, "user %s is not in a guild", userID)
	}
	if err != nil {
		return storeError("read membership", err)
	}

	unlockGuild := s.guildLocks.Lock(current.GuildID)
	defer unlockGuild()

	_, err = withRetry(ctx, s.Retry, s.Log, "guild_leave", func() (struct{}, error) {
		return struct{}{}, s.leave(ctx, userID)
	})
	if err != nil {
		return err
	}
	s.Log.Info("guild left", zap.String("guild_id", current.GuildID), zap.String("user_id", userID))
	return nil
}

func (s *GuildService) leave(ctx context.Context, userID string) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := findMembership(tx, userID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(KindNotInGuild, "user %s is not in a guild", userID)
		}
		if err != nil {
			return storeError("read membership", err)
		}
		if m.Role == models.GuildRoleLeader {
			return newError(KindLeaderMustTransfer, "leader must transfer leadership before leaving")
		}
		if _, err := lockGuild(tx, m.GuildID); err != nil {
			return err
		}

		res := tx.Where("id = ? AND user_id = ?", m.ID, userID).Delete(&models.GuildMember{})
		if res.Error != nil {
			return storeError("delete membership", res.Error)
		}
		if res.RowsAffected == 0 {
			return conflict("membership of %s changed concurrently", userID)
		}
		err = tx.Model(&models.Guild{}).
			Where("id = ? AND member_count > 0", m.GuildID).
			Update("member_count", gorm.Expr("member_count - 1")).Error
		if err != nil {
			return storeError("release guild seat", err)
		}
		return nil
	})
	return storeError("leave guild", err)
}

// ParsePromotionRole accepts the roles a leader may grant.
func ParsePromotionRole(raw string) (models.GuildRole, error) {
	role := models.GuildRole(strings.ToLower(strings.TrimSpace(raw)))
	switch role {
	case models.GuildRoleOfficer, models.GuildRoleLeader:
		return role, nil
	default:
		return "", invalidInput("new_role must be %q or %q", models.GuildRoleOfficer, models.GuildRoleLeader)
	}
}

// Promote changes a member's role inside the caller's guild. Promoting to
// leader transfers leadership: the target becomes leader, the caller becomes
// officer and Guild.LeaderID moves, all in one transaction.
func (s *GuildService) Promote(ctx context.Context, callerID, targetID, newRole string) (err error) {
	defer func() { observeGuildOp("promote", err) }()

	role, err := ParsePromotionRole(newRole)
	if err != nil {
		return err
	}
	callerID, targetID = strings.TrimSpace(callerID), strings.TrimSpace(targetID)
	if callerID == "" || targetID == "" {
		return invalidInput("caller and target user ids are required")
	}
	if callerID == targetID {
		return invalidInput("cannot change your own role")
	}

	caller, err := findMembership(s.DB.WithContext(ctx), callerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newError(KindForbidden, "only the guild leader can promote members")
	}
	if err != nil {
		return storeError("read membership", err)
	}

	unlockGuild := s.guildLocks.Lock(caller.GuildID)
	defer unlockGuild()

	_, err = withRetry(ctx, s.Retry, s.Log, "guild_promote", func() (struct{}, error) {
		return struct{}{}, s.promote(ctx, caller.GuildID, callerID, targetID, role)
	})
	if err != nil {
		return err
	}
	s.Log.Info("guild member promoted",
		zap.String("guild_id", caller.GuildID),
		zap.String("user_id", callerID),
		zap.String("target_id", targetID),
		zap.String("role", string(role)),
	)
	return nil
}

func (s *GuildService) promote(ctx context.Context, guildID, callerID, targetID string, role models.GuildRole) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g, err := lockGuild(tx, guildID)
		if err != nil {
			return err
		}

		caller, err := findMembership(tx, callerID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return storeError("read membership", err)
		}
		if caller == nil || caller.GuildID != guildID || caller.Role != models.GuildRoleLeader {
			return newError(KindForbidden, "only the guild leader can promote members")
		}

		var target models.GuildMember
		err = tx.Where("user_id = ? AND guild_id = ?", targetID, guildID).Take(&target).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(KindNotFound, "user %s is not a member of this guild", targetID)
		}
		if err != nil {
			return storeError("read target membership", err)
		}

		if role == models.GuildRoleOfficer {
			return setRole(tx, target.ID, models.GuildRoleOfficer)
		}

		if err := setRole(tx, target.ID, models.GuildRoleLeader); err != nil {
			return err
		}
		if err := setRole(tx, caller.ID, models.GuildRoleOfficer); err != nil {
			return err
		}
		res := tx.Model(&models.Guild{}).
			Where("id = ? AND leader_id = ?", g.ID, callerID).
			Update("leader_id", targetID)
		if res.Error != nil {
			return storeError("transfer leadership", res.Error)
		}
		if res.RowsAffected == 0 {
			return conflict("leadership of guild %s changed concurrently", g.ID)
		}
		return nil
	})
	return storeError("promote member", err)
}

func setRole(tx *gorm.DB, memberID uint, role models.GuildRole) error {
	err := tx.Model(&models.GuildMember{}).
		Where("id = ?", memberID).
		Update("role", role).Error
	if err != nil {
		return storeError("update role", err)
	}
	return nil
}

// UpdateEmblem sets the emblem of the caller's guild. Leaders and officers
// may change it.
func (s *GuildService) UpdateEmblem(ctx context.Context, callerID, emblemURL string) (g *models.Guild, err error) {
	defer func() { observeGuildOp("emblem", err) }()

	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return nil, invalidInput("user_id is required")
	}
	if err = validateEmblemURL(emblemURL); err != nil {
		return nil, err
	}

	m, err := s.membershipRow(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if m.Role.Rank() < models.GuildRoleOfficer.Rank() {
		return nil, newError(KindForbidden, "only leaders and officers can change the emblem")
	}

	unlockGuild := s.guildLocks.Lock(m.GuildID)
	defer unlockGuild()

	var guild models.Guild
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := lockGuild(tx, m.GuildID)
		if err != nil {
			return err
		}
		if err := tx.Model(locked).Update("emblem_url", emblemURL).Error; err != nil {
			return storeError("update emblem", err)
		}
		guild = *locked
		return nil
	})
	if err != nil {
		return nil, storeError("update emblem", err)
	}
	guild.EmblemURL = emblemURL
	return &guild, nil
}

// membershipRow reads the caller's membership, or fails with NotInGuild.
func (s *GuildService) membershipRow(ctx context.Context, userID string) (*models.GuildMember, error) {
	m, err := findMembership(s.DB.WithContext(ctx), userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindNotInGuild, "user %s is not in a guild", userID)
	}
	if err != nil {
		return nil, storeError("read membership", err)
	}
	return m, nil
}

// MembershipOf returns the guild the user belongs to and their role in it.
func (s *GuildService) MembershipOf(ctx context.Context, userID string) (*Membership, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalidInput("user_id is required")
	}
	m, err := s.membershipRow(ctx, userID)
	if err != nil {
		return nil, err
	}
	var g models.Guild
	if err := s.DB.WithContext(ctx).Where("id = ?", m.GuildID).Take(&g).Error; err != nil {
		return nil, storeError("read guild", err)
	}
	return &Membership{Guild: g, Role: m.Role, Member: *m, IsLeader: g.LeaderID == userID}, nil
}

// Get returns a guild and its members, leaders first.
func (s *GuildService) Get(ctx context.Context, guildID string) (*GuildDetails, error) {
	guildID, err := parseGuildID(guildID)
	if err != nil {
		return nil, err
	}
	db := s.DB.WithContext(ctx)

	var g models.Guild
	err = db.Where("id = ?", guildID).Take(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindNotFound, "guild %s not found", guildID)
	}
	if err != nil {
		return nil, storeError("read guild", err)
	}

	var members []models.GuildMember
	err = db.Where("guild_id = ?", guildID).
		Order(clause.OrderBy{Expression: clause.Expr{
			SQL:                "CASE role WHEN ? THEN 0 WHEN ? THEN 1 ELSE 2 END, joined_at ASC",
			Vars:               []any{string(models.GuildRoleLeader), string(models.GuildRoleOfficer)},
			WithoutParentheses: true,
		}}).
		Find(&members).Error
	if err != nil {
		return nil, storeError("read guild members", err)
	}
	return &GuildDetails{Guild: g, Members: members}, nil
}

// Leaderboard lists guilds by member count.
func (s *GuildService) Leaderboard(ctx context.Context, limit int) ([]models.Guild, error) {
	if limit < 1 {
		limit = DefaultLeaderboardSize
	}
	if limit > MaxLeaderboardSize {
		limit = MaxLeaderboardSize
	}
	var out []models.Guild
	err := s.DB.WithContext(ctx).
		Order("member_count DESC").
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, storeError("read guild leaderboard", err)
	}
	return out, nil
}
