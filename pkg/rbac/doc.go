// Package rbac enforces role and permission rules on HTTP routes.
//
// # Gate
//
// Every protected route is wrapped by exactly one Gate. The gate resolves the
// session, checks the route's Requirement and only then calls the handler:
//
//	gate := rbac.NewGate(resolver, policy, metrics)
//	router.Handle("/api/employees/{id}", gate.Wrap(rbac.Requirement{
//		Roles:       []auth.Role{auth.RoleAdmin, auth.RoleManager},
//		Permissions: []auth.Permission{auth.PermEmployeesWrite},
//	}, s.updateEmployee)).Methods(http.MethodPatch)
//
// Admission rule: the caller's role must be listed (when Roles is set) and the
// caller must hold any of the permissions, or all of them with RequireAll.
// Failures produce 401 or 403 and the handler never runs. A gate invoked
// inside another gate refuses with 500.
//
// # Ownership
//
// After the gate, handlers narrow access per record with Ownership:
// employees reach projects they are members of and tasks they are assigned
// to, clients reach the projects and submissions they own. Admins and
// managers are not narrowed.
package rbac
