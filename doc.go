// Package realtyauth is the authentication and session layer of the real
// estate marketplace.
//
// Identity (email and password, email verification, ID tokens) belongs to an
// external identity provider. The marketplace backend keeps its own user
// directory that maps a verified email to a UserType: user, builder, broker
// or admin. A session is only authenticated when both agree.
//
// # Packages
//
// This package holds what the backend and the front end share: the UserType
// enum, the request and response bodies of the auth endpoints, and a reference
// Backend serving them.
//
//	client          session manager, session store contract, backend REST client
//	client/stores   durable session stores (JSON file, Redis)
//	idp/local       in-process identity provider for development and tests
//	idp/firebase    Firebase Auth binding
//	guard           route guards for the admin, broker and builder areas
//	ui              login, signup and verification dialogs and the web front end
//	grpc            the same user-type checks for gRPC feature services
//	stores          backend user directory on files, GORM or Cloud Datastore
//
// # Backend
//
//	users := fs.NewFSUserStore(dataDir)
//	backend := realtyauth.NewBackend(users, provider, provider.Verifier())
//	http.ListenAndServe(":8081", backend.Handler())
//
// Login takes the provider's ID token and the email it was issued for. The token
// must be valid and carry a verified email equal to the one in the request; the
// response carries the user's type and record. Signup validates the request
// against a SignupPolicy, creates the provider account through AccountAdmin,
// records the user and sends the verification email. The user is not logged in
// until the email is verified.
//
// # Errors
//
// Every failure is reported as a JSON ErrorResponse with one of the ErrCode*
// codes and, for validation errors, the offending field.
package realtyauth
