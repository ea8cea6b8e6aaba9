package loan

import "errors"

var (
	ErrPositionClosed       = errors.New("loan: position is not active")
	ErrUnpaidPenalties      = errors.New("loan: unpaid penalties outstanding")
	ErrUnpaidPayments       = errors.New("loan: term balance not fully paid")
	ErrCannotOverpay        = errors.New("loan: nothing remains owed on this term")
	ErrCannotPartialPrepay  = errors.New("loan: bullet loans require full term payment")
	ErrZeroAmount           = errors.New("loan: amount must be positive")
	ErrCannotOverpayPenalty = errors.New("loan: no penalty balance to pay")
	ErrNotForeclosable      = errors.New("loan: missed payments below foreclosure threshold")
	ErrCannotOverConvert    = errors.New("loan: conversion exceeds remaining principal or collateral")
	ErrMissedPayments       = errors.New("loan: missed payments outstanding")
	ErrNothingToRefinance   = errors.New("loan: term already fully satisfied")
)
