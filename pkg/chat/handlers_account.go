package chat

import (
	"github.com/dd0wney/cluso-chat/pkg/logging"
	"github.com/dd0wney/cluso-chat/pkg/rpc"
	"github.com/dd0wney/cluso-chat/pkg/wire"
)

func (r *Router) register(call *rpc.Call, args []string) ([]string, error) {
	a, err := bindArgs[registerArgs](args)
	if err != nil {
		return nil, err
	}
	if err := r.actions.Register(call.Context(), a.Username, a.Password, a.Email); err != nil {
		return nil, err
	}
	r.logger.Info("account registered", logging.Username(a.Username))
	return []string{"account created"}, nil
}

func (r *Router) login(call *rpc.Call, args []string) ([]string, error) {
	a, err := bindArgs[loginArgs](args)
	if err != nil {
		return nil, err
	}
	if err := r.actions.Authenticate(call.Context(), a.Username, a.Password); err != nil {
		return nil, err
	}
	return []string{"login successful"}, nil
}

func (r *Router) deleteAccount(call *rpc.Call, args []string) ([]string, error) {
	a, err := bindArgs[userArgs](args)
	if err != nil {
		return nil, err
	}
	if err := r.actions.DeleteAccount(call.Context(), a.Username); err != nil {
		return nil, err
	}
	r.logger.Info("account deleted", logging.Username(a.Username))
	return nil, nil
}

func (r *Router) saveSettings(call *rpc.Call, args []string) ([]string, error) {
	a, err := bindArgs[settingArgs](args)
	if err != nil {
		return nil, err
	}
	return nil, r.actions.SaveSetting(call.Context(), a.Username, a.Setting)
}

func (r *Router) getSettings(call *rpc.Call, a *userArgs) {
	setting, err := r.actions.GetSetting(call.Context(), a.Username)
	if err != nil {
		r.fail(call, err)
		return
	}
	call.Reply(wire.StatusSuccess, setting)
}

func (r *Router) getUsers(call *rpc.Call, a *userArgs) {
	users, err := r.actions.ListUsers(call.Context())
	if err != nil {
		r.fail(call, err)
		return
	}
	for _, u := range users {
		if err := call.Reply(wire.StatusSuccess, u); err != nil {
			return
		}
	}
	call.End()
}
