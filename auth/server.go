package auth

import (
	"errors"
	"fmt"
	"regexp"

	uuid2 "github.com/satori/go.uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Merkerhood/paragon/uuid"
)

const (
	targetCost = 11
)

var (
	BadUserOrPassphraseError = errors.New("bad username or passphrase")
	validUsernameRE          = regexp.MustCompile("^[a-zA-Z]+$")
)

// Server authenticates addon sessions against a small YAML-backed account
// database. Each account owns one or more character ids; together with the
// account id these form the subject keys the progression service tracks.
type Server struct {
	AccountDatabaseFile string
	database            *accountDatabase
}

func (s *Server) Start() error {
	s.database = &accountDatabase{
		accountDBFile: s.AccountDatabaseFile,
	}
	return s.database.load()
}

// CreateAccount registers a new account with a freshly minted character.
func (s *Server) CreateAccount(user, pass string) error {
	if !validUsernameRE.MatchString(user) {
		return errors.New("invalid username, must be only alphabet characters")
	}
	if _, _, err := s.database.getEntryByUsername(user); err == nil {
		return errors.New("username is already taken, choose another")
	}

	ent := dbEntry{
		Username:   user,
		MayLogin:   true,
		Characters: []uuid2.UUID{uuid.NewId()},
	}
	return s.storeAccountWithPassphrase(uuid.NewId(), pass, ent)
}

// DoLogin verifies credentials and returns the account id plus the
// account's primary character id.
func (s *Server) DoLogin(user, pass string) (accountID, characterID uuid2.UUID, err error) {
	id, ent, err := s.database.getEntryByUsername(user)
	if err != nil {
		return uuid2.Nil, uuid2.Nil, BadUserOrPassphraseError
	}
	if !ent.MayLogin {
		return uuid2.Nil, uuid2.Nil, BadUserOrPassphraseError
	}

	if hashErr := bcrypt.CompareHashAndPassword([]byte(ent.PasswordHash), []byte(pass)); hashErr != nil {
		return uuid2.Nil, uuid2.Nil, BadUserOrPassphraseError
	}

	// while we're here, if the cost factor for the stored password isn't
	// up to snuff re-hash the supplied cleartext to the target cost
	cost, err := bcrypt.Cost([]byte(ent.PasswordHash))
	if err != nil {
		return uuid2.Nil, uuid2.Nil, fmt.Errorf("bcrypt.Cost(): %w", err)
	}
	if cost < targetCost {
		if err := s.storeAccountWithPassphrase(id, pass, ent); err != nil {
			return uuid2.Nil, uuid2.Nil, err
		}
	}

	if len(ent.Characters) == 0 {
		return uuid2.Nil, uuid2.Nil, fmt.Errorf("account %q has no characters", user)
	}
	return id, ent.Characters[0], nil
}

// AddCharacter mints a new character id under an existing account.
func (s *Server) AddCharacter(user string) (uuid2.UUID, error) {
	id, ent, err := s.database.getEntryByUsername(user)
	if err != nil {
		return uuid2.Nil, err
	}
	characterID := uuid.NewId()
	ent.Characters = append(ent.Characters, characterID)
	return characterID, s.database.putEntry(id, ent)
}

func (s *Server) storeAccountWithPassphrase(id uuid2.UUID, pass string, ent dbEntry) error {
	newHash, err := bcrypt.GenerateFromPassword([]byte(pass), targetCost)
	if err != nil {
		return fmt.Errorf("bcrypt.GenerateFromPassword(): %w", err)
	}
	ent.PasswordHash = string(newHash)
	return s.database.putEntry(id, ent)
}
