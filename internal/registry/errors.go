package registry

import (
	"github.com/mpool-go/mpool/internal/errs"
	"github.com/mpool-go/mpool/internal/interfaces"
)

func errNotFound(id interfaces.ObjectID) error {
	return errs.NewObject("registry.find", uint64(id), errs.CodeNotFound, errs.OriginRegistry, "no such object")
}

func errAlreadyExists(id interfaces.ObjectID) error {
	return errs.NewObject("registry.insert", uint64(id), errs.CodeAlreadyExists, errs.OriginRegistry, "object id already registered")
}

func errWrongKind(id interfaces.ObjectID, want, got interfaces.ObjectKind) error {
	return errs.NewObject("registry.find", uint64(id), errs.CodeInvalidArgument, errs.OriginRegistry,
		"expected kind "+want.String()+", found "+got.String())
}

func errUnbalancedPut(id interfaces.ObjectID) error {
	return errs.NewObject("registry.put", uint64(id), errs.CodeInvalidState, errs.OriginRegistry,
		"put without a balancing find_get")
}

func errBusy(id interfaces.ObjectID) error {
	return errs.NewObject("registry.remove", uint64(id), errs.CodeBusy, errs.OriginRegistry,
		"object has outstanding references or is not yet destructible")
}
