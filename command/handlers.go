package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/onnwee/chat-warden/store"
	"github.com/onnwee/chat-warden/telemetry"
	"github.com/onnwee/chat-warden/transport"
)

// DefaultRegistry returns the full fixed command set.
func DefaultRegistry() *Registry {
	return NewRegistry(
		// Moderation
		&Descriptor{Name: "warn", Permission: PermAdmin, Handler: handleWarn},
		&Descriptor{Name: "unwarn", Permission: PermAdmin, Handler: handleUnwarn},
		&Descriptor{Name: "maxwarn", Permission: PermAdmin, Handler: handleMaxWarn},
		&Descriptor{Name: "ban", Permission: PermOwner, Handler: handleBan},
		&Descriptor{Name: "unban", Permission: PermOwner, Handler: handleUnban},
		&Descriptor{Name: "addbadword", Permission: PermAdmin, Handler: handleAddBadword},
		&Descriptor{Name: "delbadword", Permission: PermAdmin, Handler: handleDelBadword},
		&Descriptor{Name: "listbadword", Aliases: []string{"listbadwords"}, Handler: handleListBadword},
		&Descriptor{Name: "antibadword", Permission: PermAdmin, Handler: handleAntiBadword},

		// Economy
		&Descriptor{Name: "addbalance", Aliases: []string{"addbal"}, Permission: PermOwner, Handler: adjustCounter("balance", 1)},
		&Descriptor{Name: "delbalance", Aliases: []string{"delbal"}, Permission: PermOwner, Handler: adjustCounter("balance", -1)},
		&Descriptor{Name: "addchip", Permission: PermOwner, Handler: adjustCounter("chips", 1)},
		&Descriptor{Name: "delchip", Permission: PermOwner, Handler: adjustCounter("chips", -1)},
		&Descriptor{Name: "addlimit", Permission: PermOwner, Handler: adjustLimit(1)},
		&Descriptor{Name: "dellimit", Permission: PermOwner, Handler: adjustLimit(-1)},

		// Subscription
		&Descriptor{Name: "addprem", Aliases: []string{"addpremium"}, Permission: PermOwner, Handler: handleAddPrem},
		&Descriptor{Name: "delprem", Aliases: []string{"delpremium"}, Permission: PermOwner, Handler: handleDelPrem},

		// Informational
		&Descriptor{Name: "profile", Handler: handleProfile},
		&Descriptor{Name: "checkprem", Handler: handleCheckPrem},
		&Descriptor{Name: "listprem", Permission: PermOwner, Handler: listUsers("premium", store.Directory.ListPremium)},
		&Descriptor{Name: "listban", Permission: PermOwner, Handler: listUsers("banned", store.Directory.ListBanned)},
		&Descriptor{Name: "listwarn", Permission: PermOwner, Handler: listUsers("warned", store.Directory.ListWarned)},
	)
}

// targetID resolves the command's target: the first mention, else the first
// positional argument with any leading @ stripped.
func targetID(c *Context) (string, error) {
	if len(c.Msg.Mentions) > 0 {
		return c.Msg.Mentions[0], nil
	}
	if len(c.Args) > 0 {
		if id := strings.TrimPrefix(c.Args[0], "@"); id != "" {
			return strings.ToLower(id), nil
		}
	}
	return "", Validationf("Mention or name the target user.")
}

func targetUser(ctx context.Context, c *Context) (*store.User, error) {
	id, err := targetID(c)
	if err != nil {
		return nil, err
	}
	u, err := c.Dir.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{What: "User " + id}
	}
	if err != nil {
		return nil, fmt.Errorf("look up target %s: %w", id, err)
	}
	return u, nil
}

func requireRoom(c *Context) (*store.Room, error) {
	if c.Room == nil {
		return nil, Validationf("This command only works in a group room.")
	}
	return c.Room, nil
}

func displayName(u *store.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.ID
}

func handleWarn(ctx context.Context, c *Context) error {
	room, err := requireRoom(c)
	if err != nil {
		return err
	}
	target, err := targetUser(ctx, c)
	if err != nil {
		return err
	}
	count, err := c.Dir.IncrementWarning(ctx, target.ID)
	if err != nil {
		return fmt.Errorf("warn %s: %w", target.ID, err)
	}
	if count >= room.WarnThreshold {
		if err := c.Tx.MutateMembership(ctx, room.ID, target.ID, transport.MembershipRemove); err != nil {
			return c.Reply(ctx, fmt.Sprintf("%s reached %d warnings but could not be removed.", displayName(target), count))
		}
		telemetry.Inc(telemetry.ThresholdRemovals)
		if err := c.Dir.ResetWarnings(ctx, target.ID, room.WarnThreshold); err != nil {
			telemetry.LoggerWithCorr(ctx).Warn("warning reset failed after manual removal", "user", target.ID, "err", err)
		}
		return c.Reply(ctx, fmt.Sprintf("%s removed after %d warnings.", displayName(target), count))
	}
	return c.Reply(ctx, fmt.Sprintf("%s warned (%d/%d).", displayName(target), count, room.WarnThreshold))
}

func handleUnwarn(ctx context.Context, c *Context) error {
	target, err := targetUser(ctx, c)
	if err != nil {
		return err
	}
	if err := c.Dir.DecrementWarning(ctx, target.ID); err != nil {
		return fmt.Errorf("unwarn %s: %w", target.ID, err)
	}
	fresh, err := c.Dir.GetUser(ctx, target.ID)
	if err != nil {
		return fmt.Errorf("reload %s: %w", target.ID, err)
	}
	return c.Reply(ctx, fmt.Sprintf("%s now has %d warning(s).", displayName(fresh), fresh.Warnings))
}

func handleMaxWarn(ctx context.Context, c *Context) error {
	room, err := requireRoom(c)
	if err != nil {
		return err
	}
	if len(c.Args) == 0 {
		return Validationf("Usage: maxwarn <number>")
	}
	n, err := ParseAmount(c.Args[0])
	if err != nil {
		return err
	}
	if err := c.Dir.SetWarnThreshold(ctx, room.ID, int(n)); err != nil {
		return fmt.Errorf("set warn threshold: %w", err)
	}
	return c.Reply(ctx, fmt.Sprintf("Warning threshold set to %d.", n))
}

func handleBan(ctx context.Context, c *Context) error {
	target, err := targetUser(ctx, c)
	if err != nil {
		return err
	}
	if target.Tier == store.TierOwner {
		return Validationf("The owner cannot be banned.")
	}
	// Second positional arg is an optional duration; absent means permanent.
	if len(c.Args) >= 2 {
		d, err := ParseDuration(c.Args[1])
		if err != nil {
			return err
		}
		until := c.Now.Add(d)
		if err := c.Dir.SetBan(ctx, target.ID, &until); err != nil {
			return fmt.Errorf("ban %s: %w", target.ID, err)
		}
		return c.Reply(ctx, fmt.Sprintf("%s banned until %s.", displayName(target), until.UTC().Format("2006-01-02 15:04 MST")))
	}
	if err := c.Dir.SetBan(ctx, target.ID, nil); err != nil {
		return fmt.Errorf("ban %s: %w", target.ID, err)
	}
	return c.Reply(ctx, fmt.Sprintf("%s banned permanently.", displayName(target)))
}

func handleUnban(ctx context.Context, c *Context) error {
	target, err := targetUser(ctx, c)
	if err != nil {
		return err
	}
	cleared, err := c.Dir.ClearBan(ctx, target.ID)
	if err != nil {
		return fmt.Errorf("unban %s: %w", target.ID, err)
	}
	if !cleared {
		return c.Reply(ctx, fmt.Sprintf("%s is not banned.", displayName(target)))
	}
	return c.Reply(ctx, fmt.Sprintf("%s unbanned.", displayName(target)))
}

func handleAddBadword(ctx context.Context, c *Context) error {
	room, err := requireRoom(c)
	if err != nil {
		return err
	}
	if len(c.Args) == 0 {
		return Validationf("Usage: addbadword <word> [word ...]")
	}
	var added []string
	for _, w := range c.Args {
		ok, err := c.Dir.AddBlockword(ctx, room.ID, w)
		if err != nil {
			return fmt.Errorf("add blockword: %w", err)
		}
		if ok {
			added = append(added, strings.ToLower(w))
		}
	}
	if len(added) == 0 {
		return c.Reply(ctx, "Nothing added; those words are already on the list.")
	}
	return c.Reply(ctx, "Added to the blocklist: "+strings.Join(added, ", "))
}

func handleDelBadword(ctx context.Context, c *Context) error {
	room, err := requireRoom(c)
	if err != nil {
		return err
	}
	if len(c.Args) == 0 {
		return Validationf("Usage: delbadword <word> [word ...]")
	}
	var removed []string
	for _, w := range c.Args {
		ok, err := c.Dir.RemoveBlockword(ctx, room.ID, w)
		if err != nil {
			return fmt.Errorf("remove blockword: %w", err)
		}
		if ok {
			removed = append(removed, strings.ToLower(w))
		}
	}
	if len(removed) == 0 {
		return c.Reply(ctx, "Nothing removed; those words were not on the list.")
	}
	return c.Reply(ctx, "Removed from the blocklist: "+strings.Join(removed, ", "))
}

func handleListBadword(ctx context.Context, c *Context) error {
	room, err := requireRoom(c)
	if err != nil {
		return err
	}
	if len(room.Blockwords) == 0 {
		return c.Reply(ctx, "The blocklist is empty.")
	}
	return c.Reply(ctx, "Blocklist: "+strings.Join(room.Blockwords, ", "))
}

func handleAntiBadword(ctx context.Context, c *Context) error {
	room, err := requireRoom(c)
	if err != nil {
		return err
	}
	if len(c.Args) == 0 || (c.Args[0] != "on" && c.Args[0] != "off") {
		return Validationf("Usage: antibadword on|off")
	}
	enabled := c.Args[0] == "on"
	if err := c.Dir.SetModeration(ctx, room.ID, enabled); err != nil {
		return fmt.Errorf("set moderation: %w", err)
	}
	if enabled {
		return c.Reply(ctx, "Word filtering enabled for this room.")
	}
	return c.Reply(ctx, "Word filtering disabled for this room.")
}

// adjustCounter builds the add/del handlers for balance and chips.
func adjustCounter(kind string, sign int64) HandlerFunc {
	return func(ctx context.Context, c *Context) error {
		target, err := targetUser(ctx, c)
		if err != nil {
			return err
		}
		if len(c.Args) < 2 {
			return Validationf("Usage: %s @user <amount>", kind)
		}
		amount, err := ParseAmount(c.Args[1])
		if err != nil {
			return err
		}
		adjust := c.Dir.AdjustBalance
		if kind == "chips" {
			adjust = c.Dir.AdjustChips
		}
		if err := adjust(ctx, target.ID, sign*amount); err != nil {
			return fmt.Errorf("adjust %s for %s: %w", kind, target.ID, err)
		}
		fresh, err := c.Dir.GetUser(ctx, target.ID)
		if err != nil {
			return fmt.Errorf("reload %s: %w", target.ID, err)
		}
		value := fresh.Balance
		if kind == "chips" {
			value = fresh.Chips
		}
		return c.Reply(ctx, fmt.Sprintf("%s now has %d %s.", displayName(fresh), value, kind))
	}
}

// adjustLimit builds the addlimit/dellimit handlers for quota.
func adjustLimit(sign int) HandlerFunc {
	return func(ctx context.Context, c *Context) error {
		target, err := targetUser(ctx, c)
		if err != nil {
			return err
		}
		if len(c.Args) < 2 {
			return Validationf("Usage: addlimit @user <amount>")
		}
		amount, err := ParseAmount(c.Args[1])
		if err != nil {
			return err
		}
		if target.Quota == store.UnlimitedQuota {
			return c.Reply(ctx, fmt.Sprintf("%s has unlimited quota.", displayName(target)))
		}
		if err := c.Dir.AdjustQuota(ctx, target.ID, sign*int(amount)); err != nil {
			return fmt.Errorf("adjust quota for %s: %w", target.ID, err)
		}
		fresh, err := c.Dir.GetUser(ctx, target.ID)
		if err != nil {
			return fmt.Errorf("reload %s: %w", target.ID, err)
		}
		return c.Reply(ctx, fmt.Sprintf("%s now has %d command(s) left.", displayName(fresh), fresh.Quota))
	}
}

func handleAddPrem(ctx context.Context, c *Context) error {
	target, err := targetUser(ctx, c)
	if err != nil {
		return err
	}
	if len(c.Args) < 2 {
		return Validationf("Usage: addprem @user <duration>, e.g. addprem @user 30d")
	}
	d, err := ParseDuration(c.Args[1])
	if err != nil {
		return err
	}
	until := c.Now.Add(d)
	if err := c.Dir.SetPremium(ctx, target.ID, until); err != nil {
		return fmt.Errorf("set premium for %s: %w", target.ID, err)
	}
	return c.Reply(ctx, fmt.Sprintf("%s is premium until %s.", displayName(target), until.UTC().Format("2006-01-02 15:04 MST")))
}

func handleDelPrem(ctx context.Context, c *Context) error {
	target, err := targetUser(ctx, c)
	if err != nil {
		return err
	}
	cleared, err := c.Dir.ClearPremium(ctx, target.ID, c.DefaultQuota)
	if err != nil {
		return fmt.Errorf("clear premium for %s: %w", target.ID, err)
	}
	if !cleared {
		return c.Reply(ctx, fmt.Sprintf("%s is not premium.", displayName(target)))
	}
	return c.Reply(ctx, fmt.Sprintf("Premium removed from %s.", displayName(target)))
}

// selfOrTarget lets informational commands inspect another user when a target
// is given, defaulting to the actor. The actor is re-read so the reply shows
// counters as of after the quota charge, not the stale pre-dispatch record.
func selfOrTarget(ctx context.Context, c *Context) (*store.User, error) {
	if len(c.Msg.Mentions) > 0 || len(c.Args) > 0 {
		return targetUser(ctx, c)
	}
	fresh, err := c.Dir.GetUser(ctx, c.User.ID)
	if err != nil {
		return c.User, nil
	}
	return fresh, nil
}

func handleProfile(ctx context.Context, c *Context) error {
	u, err := selfOrTarget(ctx, c)
	if err != nil {
		return err
	}
	quota := "unlimited"
	if !u.Unmetered() {
		quota = fmt.Sprintf("%d", u.Quota)
	}
	lines := []string{
		"Profile: " + displayName(u),
		"Tier: " + string(u.Tier),
		"Quota: " + quota,
		fmt.Sprintf("Warnings: %d", u.Warnings),
		fmt.Sprintf("Balance: %d", u.Balance),
		fmt.Sprintf("Chips: %d", u.Chips),
	}
	if u.Tier == store.TierPremium && u.PremiumExpiresAt != nil {
		lines = append(lines, "Premium until: "+u.PremiumExpiresAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	return c.Reply(ctx, strings.Join(lines, "\n"))
}

func handleCheckPrem(ctx context.Context, c *Context) error {
	u, err := selfOrTarget(ctx, c)
	if err != nil {
		return err
	}
	switch {
	case u.Tier == store.TierOwner:
		return c.Reply(ctx, displayName(u)+" is the bot owner.")
	case u.Tier == store.TierPremium && u.PremiumExpiresAt != nil:
		return c.Reply(ctx, fmt.Sprintf("%s is premium until %s.", displayName(u), u.PremiumExpiresAt.UTC().Format("2006-01-02 15:04 MST")))
	case u.Tier == store.TierPremium:
		return c.Reply(ctx, displayName(u)+" is premium with no expiry.")
	default:
		return c.Reply(ctx, displayName(u)+" is not premium.")
	}
}

// listUsers builds the listprem/listban/listwarn handlers.
func listUsers(label string, list func(store.Directory, context.Context) ([]store.User, error)) HandlerFunc {
	return func(ctx context.Context, c *Context) error {
		users, err := list(c.Dir, ctx)
		if err != nil {
			return fmt.Errorf("list %s users: %w", label, err)
		}
		if len(users) == 0 {
			return c.Reply(ctx, "No "+label+" users.")
		}
		lines := make([]string, 0, len(users)+1)
		lines = append(lines, fmt.Sprintf("%d %s user(s):", len(users), label))
		for _, u := range users {
			switch label {
			case "warned":
				lines = append(lines, fmt.Sprintf("- %s (%d warning(s))", displayName(&u), u.Warnings))
			case "banned":
				until := "permanent"
				if u.BanExpiresAt != nil {
					until = "until " + u.BanExpiresAt.UTC().Format("2006-01-02 15:04 MST")
				}
				lines = append(lines, fmt.Sprintf("- %s (%s)", displayName(&u), until))
			default:
				until := "no expiry"
				if u.PremiumExpiresAt != nil {
					until = "until " + u.PremiumExpiresAt.UTC().Format("2006-01-02 15:04 MST")
				}
				lines = append(lines, fmt.Sprintf("- %s (%s)", displayName(&u), until))
			}
		}
		return c.Reply(ctx, strings.Join(lines, "\n"))
	}
}
