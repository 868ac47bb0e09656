package main

import (
	"context"
	"fmt"

	"github.com/trezcool/stageboard/core"
	"github.com/trezcool/stageboard/core/user"
)

type newUserArgs struct {
	name, username, email, password, role string
	classID                               int
}

var cliRoles = map[string][]string{
	"admin":   user.AllRoles,
	"teacher": {user.RoleTeacher},
	"student": {user.RoleStudent},
}

// addUser creates an active user.User; admins hold every role.
func (cli *commandLine) addUser(args newUserArgs) error {
	ctx := context.Background()
	roles, ok := cliRoles[args.role]
	if !ok {
		return fmt.Errorf("%q: no such role", args.role)
	}
	nu := user.NewUser{
		Name:     core.CleanString(args.name),
		Username: core.CleanString(args.username, true /* lower */),
		Email:    core.CleanString(args.email, true /* lower */),
		Password: args.password,
		Roles:    roles,
		ClassID:  args.classID,
	}
	if nu.Name == "" {
		nu.Name = nu.Username
	}
	if err := cli.usrSvc.CheckUniqueness(ctx, nu.Username, nu.Email); err != nil {
		return err
	}
	usr, err := cli.usrSvc.Create(ctx, nu)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cli.stdout(), "user %q created (id %d)\n", usr.Username, usr.ID)
	return err
}
