/*
Package errdefs defines the error taxonomy of the coordination core as
zeebo/errs classes.

Producers wrap causes with the class that describes the failure kind:

	return errdefs.Validation.New("pool name cannot be empty")
	return errdefs.Storage.Wrap(err)

Consumers test membership with Class.Has and the HTTP layer translates with
Code / HTTPStatus. Operation pipelines record Mutator-class failures on the
operation row instead of propagating them.
*/
package errdefs
