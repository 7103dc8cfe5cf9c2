package handler

import "errors"

var errInvalidStatus = errors.New("status must be one of ACTIVE, IDLE, AWAY")
