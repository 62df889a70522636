package training

// Evaluation holds the test-split quality of a fitted readout. Precision,
// recall, and F1 are macro-averaged over the activity classes.
type Evaluation struct {
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
	TrainSize int
	TestSize  int
}

// evaluate scores predictions against a test split using a confusion
// matrix. Classes absent from both truth and prediction contribute zero
// to the macro averages.
func evaluate(weights [][]float64, test []Example) Evaluation {
	var confusion [NumClasses][NumClasses]int // [truth][predicted]
	for _, ex := range test {
		confusion[ex.Target][predict(weights, ex.State)]++
	}

	correct := 0
	var precisionSum, recallSum, f1Sum float64
	for c := 0; c < NumClasses; c++ {
		tp := confusion[c][c]
		correct += tp

		fp, fn := 0, 0
		for other := 0; other < NumClasses; other++ {
			if other == c {
				continue
			}
			fp += confusion[other][c]
			fn += confusion[c][other]
		}

		var precision, recall float64
		if tp+fp > 0 {
			precision = float64(tp) / float64(tp+fp)
		}
		if tp+fn > 0 {
			recall = float64(tp) / float64(tp+fn)
		}
		precisionSum += precision
		recallSum += recall
		if precision+recall > 0 {
			f1Sum += 2 * precision * recall / (precision + recall)
		}
	}

	ev := Evaluation{
		Precision: precisionSum / NumClasses,
		Recall:    recallSum / NumClasses,
		F1:        f1Sum / NumClasses,
		TestSize:  len(test),
	}
	if len(test) > 0 {
		ev.Accuracy = float64(correct) / float64(len(test))
	}
	return ev
}
