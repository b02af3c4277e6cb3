package deye

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/joshp123/deyehome/internal/entry"
)

// Domain is the config-entry domain owned by this plugin.
const Domain = "deye"

// cloudSession is the cloud client as seen by setup.
type cloudSession interface {
	cloudAPI
	Authenticate(ctx context.Context) error
	AuthToken() string
	UserID() string
	MQTTInfo(ctx context.Context) (MQTTInfo, error)
	OnTokenRefreshed(fn func(token string))
}

// Handler implements entry.Handler for Deye cloud accounts.
type Handler struct {
	cfg      Config
	catalog  *Catalog
	accounts *accountSet
	log      *logrus.Entry

	newCloud   func(CloudOptions) (cloudSession, error)
	newClassic func(MQTTInfo, *logrus.Entry) (classicTransport, error)
}

func NewHandler(cfg Config, log *logrus.Entry) (*Handler, error) {
	catalog, err := LoadCatalog(cfg.Products)
	if err != nil {
		return nil, err
	}
	return &Handler{
		cfg:      cfg,
		catalog:  catalog,
		accounts: newAccountSet(),
		log:      log,
		newCloud: func(opts CloudOptions) (cloudSession, error) {
			return NewCloudClient(opts)
		},
		newClassic: func(info MQTTInfo, log *logrus.Entry) (classicTransport, error) {
			return newMQTTClient(info, log)
		},
	}, nil
}

func (h *Handler) Domain() string { return Domain }

// Accounts returns the loaded accounts ordered by entry id.
func (h *Handler) Accounts() []*Account {
	return h.accounts.list()
}

// Account returns one loaded account.
func (h *Handler) Account(entryID string) (*Account, bool) {
	return h.accounts.get(entryID)
}

// ValidateInput logs in with the submitted credentials. The cloud user id
// becomes the entry's unique id.
func (h *Handler) ValidateInput(ctx context.Context, input map[string]string) (entry.FlowResult, error) {
	username := input[entry.DataUsername]
	password := input[entry.DataPassword]
	if username == "" || password == "" {
		return entry.FlowResult{}, fmt.Errorf("%w: username and password are required", entry.ErrAuthFailed)
	}
	cloud, err := h.newCloud(h.cloudOptions(username, password, ""))
	if err != nil {
		return entry.FlowResult{}, err
	}
	if err := cloud.Authenticate(ctx); err != nil {
		return entry.FlowResult{}, flowError(err)
	}
	uniqueID := cloud.UserID()
	if uniqueID == "" {
		uniqueID = strings.ToLower(username)
	}
	return entry.FlowResult{
		Title:    username,
		UniqueID: uniqueID,
		Data: map[string]string{
			entry.DataUsername:  username,
			entry.DataPassword:  password,
			entry.DataAuthToken: cloud.AuthToken(),
		},
	}, nil
}

// SetupEntry connects the account, runs the first fetch and returns the
// loaded account as the entry session.
func (h *Handler) SetupEntry(ctx context.Context, e *entry.Entry, host entry.Host) (entry.Session, error) {
	log := h.log.WithField("entry_id", e.ID)
	cloud, err := h.newCloud(h.cloudOptions(e.Data[entry.DataUsername], e.Data[entry.DataPassword], e.Data[entry.DataAuthToken]))
	if err != nil {
		return nil, err
	}
	entryID := e.ID
	cloud.OnTokenRefreshed(func(token string) {
		if err := host.UpdateEntryData(entryID, map[string]string{entry.DataAuthToken: token}); err != nil {
			log.WithError(err).Warn("persist refreshed token failed")
		}
	})

	devices, err := cloud.DeviceList(ctx)
	if err != nil {
		return nil, setupError(err)
	}

	var classic classicTransport
	if hasPlatform(devices, PlatformClassic) {
		info, err := cloud.MQTTInfo(ctx)
		if err != nil {
			return nil, setupError(err)
		}
		classic, err = h.newClassic(info, log)
		if err != nil {
			return nil, setupError(err)
		}
	}

	account := newAccount(accountOptions{
		EntryID:      e.ID,
		Title:        e.Title,
		Release:      func() { h.accounts.remove(entryID) },
		Cloud:        cloud,
		Classic:      classic,
		Devices:      devices,
		Catalog:      h.catalog,
		PollInterval: h.cfg.PollInterval,
		Cooldown:     h.cfg.RefreshCooldown,
		Mute:         h.cfg.Mute,
		StateTimeout: h.cfg.StateTimeout,
		Logger:       log,
	})
	if err := account.start(ctx); err != nil {
		_ = account.Unload(ctx)
		return nil, setupError(err)
	}
	h.accounts.add(account)
	log.WithField("devices", len(devices)).Info("deye account loaded")
	return account, nil
}

func (h *Handler) cloudOptions(username, password, token string) CloudOptions {
	return CloudOptions{
		BaseURL:           h.cfg.BaseURL,
		Username:          username,
		Password:          password,
		AuthToken:         token,
		RequestsPerMinute: h.cfg.RequestsPerMinute,
	}
}

func hasPlatform(devices []Device, platform int) bool {
	for _, d := range devices {
		if d.Platform == platform {
			return true
		}
	}
	return false
}

func flowError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidAuth):
		return fmt.Errorf("%w: %v", entry.ErrAuthFailed, err)
	case errors.Is(err, ErrCannotConnect):
		return fmt.Errorf("%w: %v", entry.ErrCannotConnect, err)
	default:
		return err
	}
}

// setupError steers the entry manager: rejected credentials need reauth,
// everything else is retried.
func setupError(err error) error {
	if errors.Is(err, ErrInvalidAuth) {
		return fmt.Errorf("%w: %v", entry.ErrAuthFailed, err)
	}
	return fmt.Errorf("%w: %v", entry.ErrNotReady, err)
}
