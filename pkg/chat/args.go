package chat

import (
	"fmt"
	"strconv"

	"github.com/dd0wney/cluso-chat/pkg/validation"
)

// binder fills a request struct from positional wire arguments
type binder interface {
	bind(args []string) error
}

// bindArgs decodes and validates the arguments of a request
func bindArgs[T any, P interface {
	*T
	binder
}](args []string) (*T, error) {
	v := P(new(T))
	if err := v.bind(args); err != nil {
		return nil, err
	}
	if err := validation.Struct(v); err != nil {
		return nil, err
	}
	return (*T)(v), nil
}

func arity(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%w: want %d, got %d", ErrBadArity, n, len(args))
	}
	return nil
}

// maxPasswordBytes is the longest input bcrypt hashes
const maxPasswordBytes = 72

func checkPassword(pw string) error {
	if len(pw) > maxPasswordBytes {
		return fmt.Errorf("%w: Password exceeds %d bytes", validation.ErrInvalid, maxPasswordBytes)
	}
	return nil
}

type registerArgs struct {
	Username string `validate:"required,max=64,username"`
	Password string `validate:"required,max=72,nodelim"`
	Email    string `validate:"required,max=254,email"`
}

func (a *registerArgs) bind(args []string) error {
	if err := arity(args, 3); err != nil {
		return err
	}
	a.Username, a.Password, a.Email = args[0], args[1], args[2]
	return checkPassword(a.Password)
}

type loginArgs struct {
	Username string `validate:"required,max=64,username"`
	Password string `validate:"required,max=72"`
}

func (a *loginArgs) bind(args []string) error {
	if err := arity(args, 2); err != nil {
		return err
	}
	a.Username, a.Password = args[0], args[1]
	return checkPassword(a.Password)
}

type userArgs struct {
	Username string `validate:"required,max=64,username"`
}

func (a *userArgs) bind(args []string) error {
	if err := arity(args, 1); err != nil {
		return err
	}
	a.Username = args[0]
	return nil
}

type sendArgs struct {
	Sender    string `validate:"required,max=64,username"`
	Recipient string `validate:"required,max=64,username"`
	Body      string `validate:"required,max=4096,nodelim"`
	Timestamp string `validate:"required,max=64,nodelim"`
}

func (a *sendArgs) bind(args []string) error {
	if err := arity(args, 4); err != nil {
		return err
	}
	a.Sender, a.Recipient, a.Body, a.Timestamp = args[0], args[1], args[2], args[3]
	return nil
}

func (a *sendArgs) message() Message {
	return Message{Sender: a.Sender, Recipient: a.Recipient, Body: a.Body, Timestamp: a.Timestamp}
}

type pendingArgs struct {
	Username   string `validate:"required,max=64,username"`
	InboxLimit int    `validate:"min=1,max=1000"`
}

func (a *pendingArgs) bind(args []string) error {
	if err := arity(args, 2); err != nil {
		return err
	}
	limit, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("%w: InboxLimit is not a number", validation.ErrInvalid)
	}
	a.Username, a.InboxLimit = args[0], limit
	return nil
}

type settingArgs struct {
	Username string `validate:"required,max=64,username"`
	Setting  string `validate:"max=1024,nodelim"`
}

func (a *settingArgs) bind(args []string) error {
	if err := arity(args, 2); err != nil {
		return err
	}
	a.Username, a.Setting = args[0], args[1]
	return nil
}
